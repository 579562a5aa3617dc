package credstore

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when no identity matches the lookup key.
	ErrNotFound = errors.New("identity not found")
	// ErrConflict is returned when a username or email is already taken.
	ErrConflict = errors.New("identity already exists")
	// ErrProviderConflict is returned when a provider identity is already attached to another record.
	ErrProviderConflict = errors.New("provider identity already linked to another account")
	// ErrInvalidRecord is returned when persisted columns violate identity invariants.
	ErrInvalidRecord = errors.New("invalid identity record")
)

// OAuthLink records one provider identity attached to a local account.
type OAuthLink struct {
	ProviderUserID string
	LinkedAt       time.Time
}

// Identity is the credential record owned by the store.
//
// PasswordHash is empty for OAuth-only accounts. TwoFactor carries the whole
// enrollment state; callers move it forward only through its transition methods.
type Identity struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	EmailVerified  bool
	TwoFactor      TwoFactor
	OAuthProviders map[string]OAuthLink
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword reports whether a password login is available.
func (i *Identity) HasPassword() bool {
	return i != nil && i.PasswordHash != ""
}

// LoginMethods counts the independent ways this identity can authenticate.
func (i *Identity) LoginMethods() int {
	if i == nil {
		return 0
	}
	n := len(i.OAuthProviders)
	if i.HasPassword() {
		n++
	}
	return n
}

// ProviderNames returns linked provider keys in stable order.
func (i *Identity) ProviderNames() []string {
	if i == nil {
		return nil
	}
	names := make([]string, 0, len(i.OAuthProviders))
	for name := range i.OAuthProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy safe to mutate independently.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.TwoFactor = i.TwoFactor.clone()
	if i.OAuthProviders != nil {
		out.OAuthProviders = make(map[string]OAuthLink, len(i.OAuthProviders))
		for k, v := range i.OAuthProviders {
			out.OAuthProviders[k] = v
		}
	}
	return &out
}

// Validate checks the record-level invariants every store enforces before commit.
func (i *Identity) Validate() error {
	if i == nil || i.ID == "" {
		return ErrInvalidRecord
	}
	if i.IsActive && i.LoginMethods() == 0 {
		return errors.New("identity has no login method")
	}
	for name, link := range i.OAuthProviders {
		if name == "" || link.ProviderUserID == "" {
			return errors.New("identity has empty provider link")
		}
	}
	return nil
}

// Mutation is applied to a private copy of an identity inside a store transaction.
// Returning an error aborts the update and leaves the record untouched.
type Mutation func(*Identity) error

// Store is the credential store adapter used by every auth component.
//
// Update must be atomic: the mutation observes the latest committed record and
// either all of its changes become visible or none do.
type Store interface {
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByLogin(ctx context.Context, usernameOrEmail string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByProvider(ctx context.Context, provider, providerUserID string) (*Identity, error)
	Create(ctx context.Context, identity *Identity) error
	Update(ctx context.Context, id string, mutate Mutation) (*Identity, error)
}

// Pinger is implemented by stores that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}
