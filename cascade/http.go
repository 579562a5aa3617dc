package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxResponseBytes = 64 << 10

// HTTPDependent calls DELETE {BaseURL}/internal/users/{id}/data on a peer
// service. Any non-2xx status is a failure. A 2xx body of
// {"deleted": {"kind": n}} is read as the counts; an empty body means none.
type HTTPDependent struct {
	name    string
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTPDependent(name, baseURL, secret string, client *http.Client) (*HTTPDependent, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("dependent name is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dependent %s: invalid base url %q", name, baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDependent{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  client,
	}, nil
}

func (h *HTTPDependent) Name() string { return h.name }

func (h *HTTPDependent) DeleteUserData(ctx context.Context, userID string) (Counts, error) {
	endpoint := h.baseURL + "/internal/users/" + url.PathEscape(userID) + "/data"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.secret != "" {
		req.Header.Set("X-Service-Secret", h.secret)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("delete returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read delete response: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Counts{}, nil
	}

	var payload struct {
		Deleted Counts `json:"deleted"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode delete response: %w", err)
	}
	if payload.Deleted == nil {
		payload.Deleted = Counts{}
	}
	return payload.Deleted, nil
}
