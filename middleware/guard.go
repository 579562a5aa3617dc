package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/gameauth"
)

// Cookie names used when tokens travel as cookies.
const (
	AccessCookie  = "ga_access"
	RefreshCookie = "ga_refresh"
)

type principalContextKey struct{}

// PrincipalFromContext returns the caller attached by a guard.
func PrincipalFromContext(ctx context.Context) (*gameauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*gameauth.Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *gameauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard rejects requests without a valid access token. The token is read from
// the Authorization bearer header, then from the access cookie.
func Guard(engine *gameauth.Engine, mode gameauth.ValidationMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w, gameauth.ErrEngineNotReady)
				return
			}

			token, ok := AccessToken(r)
			if !ok {
				unauthorized(w, gameauth.ErrTokenMalformed)
				return
			}

			p, err := engine.Authenticate(r.Context(), token, mode)
			if err != nil {
				unauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireJWTOnly verifies the token without touching the credential store.
func RequireJWTOnly(engine *gameauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, gameauth.ModeJWTOnly)
}

// RequireStrict also rejects inactive and deleted accounts.
func RequireStrict(engine *gameauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, gameauth.ModeStrict)
}

// AccessToken extracts the access token from r.
func AccessToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter, err error) {
	code := gameauth.ErrorCode(err)
	if code == "INTERNAL" {
		code = "UNAUTHORIZED"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "unauthorized",
		"code":  code,
	})
}
