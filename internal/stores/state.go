package stores

import (
	"context"
	"errors"
	"time"
)

// ErrStateBackend wraps failures of the state backend itself.
var ErrStateBackend = errors.New("csrf state backend unavailable")

// StateRecord binds an OAuth redirect to the request that started it.
type StateRecord struct {
	Token        string
	UserID       string
	Provider     string
	CodeVerifier string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r *StateRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// StateStore is a shared expiring key-value store for CSRF state.
//
// Consume is an atomic fetch-and-delete: for a given token at most one call
// ever returns a record. A missing or expired token yields (nil, nil).
type StateStore interface {
	Put(ctx context.Context, rec *StateRecord) error
	Consume(ctx context.Context, token string) (*StateRecord, error)
	// Sweep removes expired records and returns how many were dropped.
	Sweep(ctx context.Context) (int, error)
}
