package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
)

// FieldMap names the userinfo JSON fields holding each profile value.
type FieldMap struct {
	ID            string
	Email         string
	EmailVerified string
	Name          string
}

// OAuth2Config configures a plain OAuth2 provider with a userinfo endpoint,
// for providers without OIDC discovery (Discord, GitHub and similar).
type OAuth2Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	Fields       FieldMap
	HTTPClient   *http.Client
}

type OAuth2Provider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
	fields      FieldMap
	client      *http.Client
}

const maxUserInfoBytes = 1 << 20

func NewOAuth2(cfg OAuth2Config) (*OAuth2Provider, error) {
	if cfg.Name == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oauth2 provider config missing required fields")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, errors.New("oauth2 provider requires auth, token and userinfo urls")
	}
	fields := cfg.Fields
	if fields.ID == "" {
		fields.ID = "id"
	}
	if fields.Email == "" {
		fields.Email = "email"
	}
	if fields.Name == "" {
		fields.Name = "name"
	}

	return &OAuth2Provider{
		name: cfg.Name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			Scopes:       cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		fields:      fields,
		client:      cfg.HTTPClient,
	}, nil
}

func (p *OAuth2Provider) Name() string { return p.name }

func (p *OAuth2Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, authOptions(verifier)...)
}

func (p *OAuth2Provider) Exchange(ctx context.Context, code, verifier string) (*Profile, error) {
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}

	token, err := p.oauth.Exchange(ctx, code, exchangeOptions(verifier)...)
	if err != nil {
		return nil, wrap(p.name, KindExchange, err)
	}

	info, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, wrap(p.name, KindProfile, err)
	}

	profile := &Profile{
		Provider:       p.name,
		ProviderUserID: stringField(info, p.fields.ID),
		Email:          stringField(info, p.fields.Email),
		Name:           stringField(info, p.fields.Name),
	}
	if p.fields.EmailVerified != "" {
		profile.EmailVerified, _ = info[p.fields.EmailVerified].(bool)
	}
	if profile.ProviderUserID == "" {
		return nil, wrap(p.name, KindProfile, fmt.Errorf("userinfo has no %q field", p.fields.ID))
	}
	return profile, nil
}

func (p *OAuth2Provider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %s", resp.Status)
	}

	var info map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return info, nil
}

// stringField reads key as a string; numeric ids are rendered in base 10.
func stringField(info map[string]any, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
