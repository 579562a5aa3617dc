package oauth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Profile is the normalized identity returned by a provider. It carries facts
// only; linking and account decisions belong to the caller.
type Profile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// Provider is one configured external identity provider.
type Provider interface {
	// Name is the registry key and the key stored on linked identities.
	Name() string

	// AuthCodeURL builds the authorization redirect. verifier is the PKCE
	// code verifier; only its S256 challenge leaves the server.
	AuthCodeURL(state, verifier string) string

	// Exchange trades code for tokens and fetches the profile. Failures are
	// returned as *ProviderError.
	Exchange(ctx context.Context, code, verifier string) (*Profile, error)
}

// Registry holds providers by name. It is read-only after construction.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(list ...Provider) (*Registry, error) {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		if p == nil {
			return nil, fmt.Errorf("nil oauth provider")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return nil, fmt.Errorf("oauth provider with empty name")
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("duplicate oauth provider %q", name)
		}
		m[name] = p
	}
	return &Registry{providers: m}, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}
