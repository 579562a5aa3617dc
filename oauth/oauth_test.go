package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdP struct {
	t        *testing.T
	srv      *httptest.Server
	key      *rsa.PrivateKey
	userinfo map[string]any
	// lastVerifier is the code_verifier posted to the token endpoint.
	lastVerifier string
	tokenStatus  int
	subject      string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIdP{t: t, key: key, tokenStatus: http.StatusOK, subject: "oidc-sub-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("/keys", f.jwks)
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/userinfo", f.userInfo)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	f.writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                f.srv.URL,
		"authorization_endpoint":                f.srv.URL + "/authorize",
		"token_endpoint":                        f.srv.URL + "/token",
		"jwks_uri":                              f.srv.URL + "/keys",
		"userinfo_endpoint":                     f.srv.URL + "/userinfo",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIdP) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	f.writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.lastVerifier = r.PostForm.Get("code_verifier")
	if f.tokenStatus != http.StatusOK {
		f.writeJSON(w, f.tokenStatus, map[string]string{"error": "invalid_grant"})
		return
	}

	now := time.Now()
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            f.srv.URL,
		"aud":            "client-1",
		"sub":            f.subject,
		"email":          "player@example.com",
		"email_verified": true,
		"name":           "Player One",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})
	idToken.Header["kid"] = "k1"
	signed, err := idToken.SignedString(f.key)
	require.NoError(f.t, err)

	f.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "provider-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     signed,
	})
}

func (f *fakeIdP) userInfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer provider-access" {
		f.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	f.writeJSON(w, http.StatusOK, f.userinfo)
}

func TestOIDCExchangeVerifiesIDToken(t *testing.T) {
	idp := newFakeIdP(t)
	p, err := NewOIDC(context.Background(), OIDCConfig{
		Name:         "keycloak",
		IssuerURL:    idp.srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret",
		RedirectURL:  "https://game.example/oauth/keycloak/callback",
	})
	require.NoError(t, err)

	verifier := NewVerifier()
	authURL, err := url.Parse(p.AuthCodeURL("state-1", verifier))
	require.NoError(t, err)
	q := authURL.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, Challenge(verifier), q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Empty(t, q.Get("code_verifier"))

	profile, err := p.Exchange(context.Background(), "code-1", verifier)
	require.NoError(t, err)
	assert.Equal(t, verifier, idp.lastVerifier)
	assert.Equal(t, &Profile{
		Provider:       "keycloak",
		ProviderUserID: "oidc-sub-1",
		Email:          "player@example.com",
		EmailVerified:  true,
		Name:           "Player One",
	}, profile)
}

func TestOIDCExchangeFailureIsClassified(t *testing.T) {
	idp := newFakeIdP(t)
	idp.tokenStatus = http.StatusBadRequest
	p, err := NewOIDC(context.Background(), OIDCConfig{
		Name: "keycloak", IssuerURL: idp.srv.URL, ClientID: "client-1", RedirectURL: "https://game.example/cb",
	})
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "bad", "")
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindExchange, perr.Kind)
	assert.Equal(t, "keycloak", perr.Provider)
}

func TestOIDCRejectsForeignAudience(t *testing.T) {
	idp := newFakeIdP(t)
	p, err := NewOIDC(context.Background(), OIDCConfig{
		Name: "keycloak", IssuerURL: idp.srv.URL, ClientID: "other-client", RedirectURL: "https://game.example/cb",
	})
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "code", "")
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindProfile, perr.Kind)
}

func TestOAuth2ExchangeReadsUserInfo(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userinfo = map[string]any{
		"id":       json.Number("80351110224678912"),
		"email":    "gamer@example.com",
		"verified": true,
		"username": "gamer",
	}
	p, err := NewOAuth2(OAuth2Config{
		Name:        "discord",
		ClientID:    "client-1",
		RedirectURL: "https://game.example/oauth/discord/callback",
		AuthURL:     idp.srv.URL + "/authorize",
		TokenURL:    idp.srv.URL + "/token",
		UserInfoURL: idp.srv.URL + "/userinfo",
		Fields:      FieldMap{EmailVerified: "verified", Name: "username"},
	})
	require.NoError(t, err)

	profile, err := p.Exchange(context.Background(), "code", "v")
	require.NoError(t, err)
	assert.Equal(t, "80351110224678912", profile.ProviderUserID)
	assert.Equal(t, "gamer@example.com", profile.Email)
	assert.True(t, profile.EmailVerified)
	assert.Equal(t, "gamer", profile.Name)
}

func TestOAuth2MissingIDIsProfileError(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userinfo = map[string]any{"email": "x@example.com"}
	p, err := NewOAuth2(OAuth2Config{
		Name: "github", ClientID: "c", RedirectURL: "https://game.example/cb",
		AuthURL: idp.srv.URL + "/authorize", TokenURL: idp.srv.URL + "/token", UserInfoURL: idp.srv.URL + "/userinfo",
	})
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "code", "")
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindProfile, perr.Kind)
}

func TestOAuth2TimeoutIsClassified(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer slow.Close()

	p, err := NewOAuth2(OAuth2Config{
		Name: "slow", ClientID: "c", RedirectURL: "https://game.example/cb",
		AuthURL: slow.URL, TokenURL: slow.URL, UserInfoURL: slow.URL,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Exchange(ctx, "code", "")
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindTimeout, perr.Kind)
}

func TestCallbackErrorClassification(t *testing.T) {
	assert.Equal(t, KindDenied, CallbackError("g", "access_denied", "user said no").Kind)
	assert.Equal(t, KindCallback, CallbackError("g", "server_error", "").Kind)
	assert.Contains(t, CallbackError("g", "access_denied", "user said no").Error(), "access_denied")
}

type namedProvider string

func (n namedProvider) Name() string                   { return string(n) }
func (namedProvider) AuthCodeURL(string, string) string { return "" }
func (namedProvider) Exchange(context.Context, string, string) (*Profile, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(namedProvider("Google"), namedProvider("discord"))
	require.NoError(t, err)
	assert.Equal(t, []string{"discord", "google"}, r.Names())

	p, ok := r.Get("google")
	require.True(t, ok)
	assert.Equal(t, "Google", p.Name())
	_, ok = r.Get("steam")
	assert.False(t, ok)

	_, err = NewRegistry(namedProvider("a"), namedProvider("A"))
	assert.Error(t, err)
}
