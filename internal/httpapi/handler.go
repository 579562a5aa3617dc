// Package httpapi is the gin HTTP surface of the auth service.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/gameauth"
	"github.com/MrEthical07/gameauth/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Transport selects how session tokens reach the client.
type Transport string

const (
	// TransportBody returns tokens in JSON response bodies.
	TransportBody Transport = "body"
	// TransportCookie sets HttpOnly cookies and keeps tokens out of bodies.
	TransportCookie Transport = "cookie"
)

// Options configures the HTTP surface.
type Options struct {
	Transport    Transport
	CookieDomain string
	CookieSecure bool
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Handler serves every auth route on top of one engine.
type Handler struct {
	engine *gameauth.Engine
	opts   Options
	logger *zap.Logger
}

func New(engine *gameauth.Engine, opts Options, logger *zap.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	switch opts.Transport {
	case "":
		opts.Transport = TransportBody
	case TransportBody, TransportCookie:
	default:
		return nil, errors.New("httpapi: transport must be body or cookie")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, opts: opts, logger: logger.Named("httpapi")}, nil
}

// Router builds a gin engine with recovery, request logging and every route.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger(), clientIP())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the auth routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	authed := middleware.Gin(middleware.RequireStrict(h.engine))

	r.POST("/login", h.login)
	r.POST("/2fa/verify", h.completeChallenge)
	r.POST("/token/refresh", h.refresh)
	r.POST("/logout", h.logout)

	r.POST("/2fa/setup", authed, h.beginSetup)
	r.POST("/2fa/verify-setup", authed, h.verifySetup)
	r.POST("/2fa/disable", authed, h.disableTwoFactor)

	r.GET("/oauth/:provider/login", h.oauthLogin)
	r.GET("/oauth/:provider/callback", h.oauthCallback)
	r.POST("/oauth/link", authed, h.oauthLink)
	r.DELETE("/oauth/unlink/:provider", authed, h.oauthUnlink)

	r.DELETE("/account", authed, h.deleteAccount)

	r.GET("/healthz", h.health)
	if h.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.opts.Metrics))
	}
}

// requestLogger writes one line per request.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			h.logger.Warn("request", fields...)
			return
		}
		h.logger.Info("request", fields...)
	}
}

// clientIP stores the caller address on the request context for rate limits
// and audit events.
func clientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(gameauth.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

func (h *Handler) health(c *gin.Context) {
	if err := h.engine.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func subject(c *gin.Context) string {
	p, ok := middleware.PrincipalFromContext(c.Request.Context())
	if !ok {
		return ""
	}
	return p.UserID
}

// optionalSubject returns the caller when a valid access token is present.
func (h *Handler) optionalSubject(c *gin.Context) string {
	token, ok := middleware.AccessToken(c.Request)
	if !ok {
		return ""
	}
	p, err := h.engine.Authenticate(c.Request.Context(), token, gameauth.ModeStrict)
	if err != nil {
		return ""
	}
	return p.UserID
}

func trimmed(v string) string { return strings.TrimSpace(v) }
