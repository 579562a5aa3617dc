package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/gameauth"
	"github.com/MrEthical07/gameauth/cascade"
	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/credstore/memory"
	"github.com/MrEthical07/gameauth/middleware"
	"github.com/MrEthical07/gameauth/oauth"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "correct-password-123"

type stubProvider struct {
	profiles map[string]oauth.Profile
}

func (p *stubProvider) Name() string { return "github" }

func (p *stubProvider) AuthCodeURL(state, verifier string) string {
	return "https://github.example.com/login/oauth/authorize?state=" + url.QueryEscape(state) +
		"&code_challenge=" + oauth.Challenge(verifier)
}

func (p *stubProvider) Exchange(_ context.Context, code, _ string) (*oauth.Profile, error) {
	profile, ok := p.profiles[code]
	if !ok {
		return nil, &oauth.ProviderError{Provider: "github", Kind: oauth.KindExchange, Code: "bad_verification_code"}
	}
	return &profile, nil
}

type server struct {
	router   *gin.Engine
	engine   *gameauth.Engine
	store    *memory.Store
	provider *stubProvider
}

func newServer(t *testing.T, transport Transport, dependents ...cascade.Dependent) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := gameauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = gameauth.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.Audit.Enabled = false

	provider := &stubProvider{profiles: map[string]oauth.Profile{}}
	registry, err := oauth.NewRegistry(provider)
	require.NoError(t, err)

	store := memory.New()
	engine, err := gameauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithOAuthProviders(registry).
		WithDependents(dependents...).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h, err := New(engine, Options{Transport: transport}, nil)
	require.NoError(t, err)
	return &server{router: h.Router(), engine: engine, store: store, provider: provider}
}

func (s *server) addUser(t *testing.T, username string) string {
	t.Helper()
	hash, err := s.engine.HashPassword(password)
	require.NoError(t, err)
	identity := &credstore.Identity{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
	require.NoError(t, s.store.Create(context.Background(), identity))
	return identity.ID
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	cookies []*http.Cookie
}

func (s *server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *server) login(t *testing.T, identifier string) sessionResponse {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/login", body: gin.H{"identifier": identifier, "password": password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[sessionResponse](t, rec)
}

func TestLoginBodyTransport(t *testing.T) {
	s := newServer(t, TransportBody)
	userID := s.addUser(t, "alice")

	resp := s.login(t, "alice")
	assert.Equal(t, userID, resp.UserID)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	rec := s.do(t, call{method: http.MethodPost, path: "/login", body: gin.H{"identifier": "alice", "password": "nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/login", body: gin.H{"identifier": "ghost", "password": password}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/token/refresh", body: gin.H{"refresh_token": resp.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, resp.RefreshToken, decode[sessionResponse](t, rec).RefreshToken)

	rec = s.do(t, call{method: http.MethodPost, path: "/token/refresh", body: gin.H{"refresh_token": resp.RefreshToken}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", decode[errorResponse](t, rec).Code)
}

func TestCookieTransportKeepsTokensOutOfBodies(t *testing.T) {
	s := newServer(t, TransportCookie)
	s.addUser(t, "alice")

	rec := s.do(t, call{method: http.MethodPost, path: "/login", body: gin.H{"identifier": "alice", "password": password, "extended": true}})
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}
	access, refresh := byName[middleware.AccessCookie], byName[middleware.RefreshCookie]
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.NotContains(t, rec.Body.String(), access.Value)
	assert.NotContains(t, rec.Body.String(), refresh.Value)
	assert.True(t, decode[sessionResponse](t, rec).Extended)

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/setup", cookies: []*http.Cookie{access}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/token/refresh", cookies: []*http.Cookie{refresh}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refresh_token")

	rec = s.do(t, call{method: http.MethodPost, path: "/logout", cookies: []*http.Cookie{refresh}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
	}
}

func TestTwoFactorOverHTTP(t *testing.T) {
	s := newServer(t, TransportBody)
	s.addUser(t, "alice")
	session := s.login(t, "alice")

	rec := s.do(t, call{method: http.MethodPost, path: "/2fa/setup"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/setup", token: session.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	setup := decode[struct {
		Secret      string   `json:"secret"`
		BackupCodes []string `json:"backup_codes"`
	}](t, rec)
	require.NotEmpty(t, setup.Secret)
	require.NotEmpty(t, setup.BackupCodes)

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/verify-setup", token: session.AccessToken, body: gin.H{"secret": setup.Secret, "code": "000000x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/verify-setup", token: session.AccessToken, body: gin.H{"secret": setup.Secret, "code": code}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/setup", token: session.AccessToken})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_ENABLED", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/login", body: gin.H{"identifier": "alice", "password": password}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	challenge := decode[challengeResponse](t, rec)
	assert.True(t, challenge.ChallengeRequired)
	assert.NotContains(t, rec.Body.String(), "access_token")

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/verify", body: gin.H{"challenge_token": challenge.ChallengeToken, "backup_code": setup.BackupCodes[0]}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[sessionResponse](t, rec).AccessToken)

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/verify", body: gin.H{"challenge_token": challenge.ChallengeToken, "backup_code": setup.BackupCodes[1]}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_CHALLENGE", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/disable", token: session.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	s.login(t, "alice")
}

func TestOAuthOverHTTP(t *testing.T) {
	s := newServer(t, TransportBody)
	s.provider.profiles["code-1"] = oauth.Profile{Provider: "github", ProviderUserID: "gh-1"}

	rec := s.do(t, call{method: http.MethodGet, path: "/oauth/github/login"})
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	callback := fmt.Sprintf("/oauth/github/callback?code=code-1&state=%s", url.QueryEscape(state))
	rec = s.do(t, call{method: http.MethodGet, path: callback})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[sessionResponse](t, rec)
	assert.True(t, created.Created)

	rec = s.do(t, call{method: http.MethodGet, path: callback})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodDelete, path: "/oauth/unlink/github", token: created.AccessToken})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_ALTERNATIVE_LOGIN", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/oauth/gitlab/login"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/oauth/github/callback?error=access_denied&state=x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PROVIDER_ERROR", decode[errorResponse](t, rec).Code)
}

func TestExplicitLinkOverHTTP(t *testing.T) {
	s := newServer(t, TransportBody)
	s.addUser(t, "alice")
	session := s.login(t, "alice")
	s.provider.profiles["code-1"] = oauth.Profile{Provider: "github", ProviderUserID: "gh-1"}

	rec := s.do(t, call{method: http.MethodPost, path: "/oauth/link", token: session.AccessToken, body: gin.H{"provider": "github"}})
	require.Equal(t, http.StatusOK, rec.Code)
	start := decode[struct {
		URL string `json:"url"`
	}](t, rec)
	u, err := url.Parse(start.URL)
	require.NoError(t, err)

	rec = s.do(t, call{
		method: http.MethodGet,
		path:   "/oauth/github/callback?code=code-1&state=" + url.QueryEscape(u.Query().Get("state")),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/oauth/link", token: session.AccessToken, body: gin.H{"provider": "github"}})
	require.Equal(t, http.StatusOK, rec.Code)
	start = decode[struct {
		URL string `json:"url"`
	}](t, rec)
	u, err = url.Parse(start.URL)
	require.NoError(t, err)

	rec = s.do(t, call{
		method: http.MethodGet,
		path:   "/oauth/github/callback?code=code-1&state=" + url.QueryEscape(u.Query().Get("state")),
		token:  session.AccessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"providers":["github"]`)

	rec = s.do(t, call{method: http.MethodDelete, path: "/oauth/unlink/github", token: session.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, call{method: http.MethodDelete, path: "/oauth/unlink/github", token: session.AccessToken})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_LINKED", decode[errorResponse](t, rec).Code)
}

func TestDeleteAccountOverHTTP(t *testing.T) {
	failing := true
	s := newServer(t, TransportBody, cascade.Func{
		Service: "matches",
		Fn: func(context.Context, string) (cascade.Counts, error) {
			if failing {
				return nil, errors.New("matches down")
			}
			return cascade.Counts{"matches": 4}, nil
		},
	})
	s.addUser(t, "alice")
	session := s.login(t, "alice")

	rec := s.do(t, call{method: http.MethodDelete, path: "/account", token: session.AccessToken, body: gin.H{"password": "nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_PASSWORD", decode[errorResponse](t, rec).Code)

	rec = s.do(t, call{method: http.MethodDelete, path: "/account", token: session.AccessToken, body: gin.H{"password": password}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "CASCADE_FAILED", decode[errorResponse](t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "matches down")

	failing = false
	rec = s.do(t, call{method: http.MethodDelete, path: "/account", token: session.AccessToken, body: gin.H{"password": password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decode[gameauth.DeletionSummary](t, rec).TotalDeleted)

	rec = s.do(t, call{method: http.MethodPost, path: "/2fa/setup", token: session.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newServer(t, TransportBody)
	rec := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		gameauth.ErrInvalidCredentials:        http.StatusUnauthorized,
		gameauth.ErrAlreadyEnabled:            http.StatusConflict,
		gameauth.ErrTwoFactorNotEnabled:       http.StatusBadRequest,
		gameauth.ErrLoginRateLimited:          http.StatusTooManyRequests,
		gameauth.ErrChallengeAttemptsExceeded: http.StatusUnauthorized,
		fmt.Errorf("%w: dial", gameauth.ErrBackendUnavailable): http.StatusServiceUnavailable,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		status, code := statusFor(err)
		assert.Equal(t, want, status, err.Error())
		assert.False(t, strings.Contains(code, " "))
	}
}

func TestNewValidatesOptions(t *testing.T) {
	s := newServer(t, TransportBody)

	_, err := New(nil, Options{}, nil)
	assert.Error(t, err)
	_, err = New(s.engine, Options{Transport: "pigeon"}, nil)
	assert.Error(t, err)
}

func TestMetricsRoute(t *testing.T) {
	s := newServer(t, TransportBody)
	h, err := New(s.engine, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gameauth_login_success_total 0\n"))
	})}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gameauth_login_success_total")

	rec = s.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
