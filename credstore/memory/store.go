// Package memory is an in-process credstore.Store for tests and single-node deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/google/uuid"
)

type providerKey struct {
	provider string
	userID   string
}

// Store keeps identities in maps guarded by one mutex, so every Update is
// trivially atomic.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*credstore.Identity
	byUsername map[string]string
	byEmail    map[string]string
	byProvider map[providerKey]string

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*credstore.Identity),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		byProvider: make(map[providerKey]string),
		now:        time.Now,
	}
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (s *Store) GetByID(_ context.Context, id string) (*credstore.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) GetByLogin(ctx context.Context, usernameOrEmail string) (*credstore.Identity, error) {
	key := normalize(usernameOrEmail)

	s.mu.RLock()
	id, ok := s.byUsername[key]
	if !ok {
		id, ok = s.byEmail[key]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, credstore.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*credstore.Identity, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalize(email)]
	s.mu.RUnlock()

	if !ok {
		return nil, credstore.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) GetByProvider(ctx context.Context, provider, providerUserID string) (*credstore.Identity, error) {
	s.mu.RLock()
	id, ok := s.byProvider[providerKey{provider: provider, userID: providerUserID}]
	s.mu.RUnlock()

	if !ok {
		return nil, credstore.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) Create(_ context.Context, identity *credstore.Identity) error {
	if identity == nil {
		return credstore.ErrInvalidRecord
	}
	rec := identity.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		return credstore.ErrConflict
	}
	if _, ok := s.byUsername[normalize(rec.Username)]; ok && rec.Username != "" {
		return credstore.ErrConflict
	}
	if _, ok := s.byEmail[normalize(rec.Email)]; ok && rec.Email != "" {
		return credstore.ErrConflict
	}
	for name, link := range rec.OAuthProviders {
		if _, ok := s.byProvider[providerKey{provider: name, userID: link.ProviderUserID}]; ok {
			return credstore.ErrProviderConflict
		}
	}

	s.index(rec)
	identity.ID = rec.ID
	identity.CreatedAt = rec.CreatedAt
	identity.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *Store) Update(_ context.Context, id string, mutate credstore.Mutation) (*credstore.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now().UTC()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if u := normalize(next.Username); u != normalize(current.Username) && u != "" {
		if _, taken := s.byUsername[u]; taken {
			return nil, credstore.ErrConflict
		}
	}
	if e := normalize(next.Email); e != normalize(current.Email) && e != "" {
		if _, taken := s.byEmail[e]; taken {
			return nil, credstore.ErrConflict
		}
	}
	for name, link := range next.OAuthProviders {
		owner, taken := s.byProvider[providerKey{provider: name, userID: link.ProviderUserID}]
		if taken && owner != id {
			return nil, credstore.ErrProviderConflict
		}
	}

	s.unindex(current)
	s.index(next)
	return next.Clone(), nil
}

// Len reports the number of stored identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) index(rec *credstore.Identity) {
	s.byID[rec.ID] = rec
	if rec.Username != "" {
		s.byUsername[normalize(rec.Username)] = rec.ID
	}
	if rec.Email != "" {
		s.byEmail[normalize(rec.Email)] = rec.ID
	}
	for name, link := range rec.OAuthProviders {
		s.byProvider[providerKey{provider: name, userID: link.ProviderUserID}] = rec.ID
	}
}

func (s *Store) unindex(rec *credstore.Identity) {
	delete(s.byID, rec.ID)
	delete(s.byUsername, normalize(rec.Username))
	delete(s.byEmail, normalize(rec.Email))
	for name, link := range rec.OAuthProviders {
		delete(s.byProvider, providerKey{provider: name, userID: link.ProviderUserID})
	}
}

var _ credstore.Store = (*Store)(nil)
