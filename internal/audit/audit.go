package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// StdoutPath selects standard output in OpenJSONFile.
const StdoutPath = "-"

// JSONWriterSink appends one JSON object per line to a writer, typically an
// append-only audit file shipped by a log collector.
type JSONWriterSink struct {
	mu      sync.Mutex
	enc     *json.Encoder
	closer  io.Closer
	written uint64
	failed  uint64
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

// OpenJSONFile opens path for appending, creating it with 0600 permissions.
// StdoutPath writes to standard output, which Close leaves open.
func OpenJSONFile(path string) (*JSONWriterSink, error) {
	if path == StdoutPath {
		return NewJSONWriterSink(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	sink := NewJSONWriterSink(f)
	sink.closer = f
	return sink, nil
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		s.failed++
		return
	}
	s.written++
}

// Counts reports lines written and lines that failed to encode or write.
func (s *JSONWriterSink) Counts() (written, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.failed
}

// Close closes the underlying file when the sink opened it.
func (s *JSONWriterSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closer.Close()
	s.closer = nil
	s.enc = nil
	return err
}

// MultiSink emits every event to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
