package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/gameauth"
	"github.com/MrEthical07/gameauth/middleware"
	"github.com/gin-gonic/gin"
)

type sessionResponse struct {
	UserID           string    `json:"user_id,omitempty"`
	AccessToken      string    `json:"access_token,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Extended         bool      `json:"extended"`
	Created          bool      `json:"created,omitempty"`
	Linked           bool      `json:"linked,omitempty"`
}

type challengeResponse struct {
	ChallengeRequired  bool      `json:"challenge_required"`
	ChallengeToken     string    `json:"challenge_token"`
	ChallengeExpiresAt time.Time `json:"challenge_expires_at"`
	UserID             string    `json:"user_id,omitempty"`
}

// session builds the response for pair and, in cookie mode, sets the cookies
// instead of exposing the tokens.
func (h *Handler) session(c *gin.Context, userID string, pair *gameauth.SessionPair) sessionResponse {
	resp := sessionResponse{
		UserID:           userID,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Extended:         pair.Extended,
	}
	if h.opts.Transport == TransportCookie {
		h.setCookie(c, middleware.AccessCookie, pair.AccessToken, pair.AccessExpiresAt)
		h.setCookie(c, middleware.RefreshCookie, pair.RefreshToken, pair.RefreshExpiresAt)
		return resp
	}
	resp.AccessToken = pair.AccessToken
	resp.RefreshToken = pair.RefreshToken
	return resp
}

func (h *Handler) setCookie(c *gin.Context, name, value string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", h.opts.CookieDomain, h.opts.CookieSecure, true)
}

func (h *Handler) clearCookies(c *gin.Context) {
	if h.opts.Transport != TransportCookie {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookie, "", -1, "/", h.opts.CookieDomain, h.opts.CookieSecure, true)
	c.SetCookie(middleware.RefreshCookie, "", -1, "/", h.opts.CookieDomain, h.opts.CookieSecure, true)
}

// refreshToken reads the refresh token from the body, falling back to the
// refresh cookie.
func refreshToken(c *gin.Context, fromBody string) string {
	if token := trimmed(fromBody); token != "" {
		return token
	}
	if cookie, err := c.Cookie(middleware.RefreshCookie); err == nil {
		return cookie
	}
	return ""
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dst)
}
