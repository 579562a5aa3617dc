package stores

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStateStore is a process-local StateStore. It is only correct for a
// single instance; multi-instance deployments need RedisStateStore.
type MemoryStateStore struct {
	mu      sync.Mutex
	records map[string]StateRecord
	now     func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		records: make(map[string]StateRecord),
		now:     time.Now,
	}
}

func (s *MemoryStateStore) Put(_ context.Context, rec *StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Token]; exists {
		return errors.New("state token collision")
	}
	s.records[rec.Token] = *rec
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, token string) (*StateRecord, error) {
	s.mu.Lock()
	rec, ok := s.records[token]
	delete(s.records, token)
	s.mu.Unlock()

	if !ok || rec.Expired(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStateStore) Sweep(context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, token)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of held records, expired ones included.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ StateStore = (*MemoryStateStore)(nil)
