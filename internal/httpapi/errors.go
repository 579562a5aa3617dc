package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/gameauth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusByCode = map[string]int{
	"INVALID_CREDENTIALS":          http.StatusUnauthorized,
	"ALREADY_ENABLED":              http.StatusConflict,
	"NO_SETUP_IN_PROGRESS":         http.StatusConflict,
	"SETUP_DATA_MISMATCH":          http.StatusBadRequest,
	"INVALID_CODE":                 http.StatusBadRequest,
	"INVALID_OR_EXPIRED_CHALLENGE": http.StatusUnauthorized,
	"2FA_NOT_ENABLED":              http.StatusBadRequest,
	"INVALID_STATE":                http.StatusBadRequest,
	"PROVIDER_ERROR":               http.StatusBadGateway,
	"ALREADY_LINKED":               http.StatusConflict,
	"NOT_LINKED":                   http.StatusNotFound,
	"NO_ALTERNATIVE_LOGIN":         http.StatusConflict,
	"INVALID_PASSWORD":             http.StatusUnauthorized,
	"CASCADE_FAILED":               http.StatusInternalServerError,
	"TOKEN_EXPIRED":                http.StatusUnauthorized,
	"TOKEN_MALFORMED":              http.StatusUnauthorized,
	"TOKEN_WRONG_PURPOSE":          http.StatusUnauthorized,
	"INVALID_REFRESH_TOKEN":        http.StatusUnauthorized,
	"USER_NOT_FOUND":               http.StatusNotFound,
	"ACCOUNT_INACTIVE":             http.StatusForbidden,
	"CONFIRMATION_REQUIRED":        http.StatusBadRequest,
	"RATE_LIMITED":                 http.StatusTooManyRequests,
	"INVALID_REQUEST":              http.StatusBadRequest,
	"UNKNOWN_PROVIDER":             http.StatusNotFound,
}

// statusFor maps an engine error onto an HTTP status and wire code.
func statusFor(err error) (int, string) {
	if errors.Is(err, gameauth.ErrBackendUnavailable) {
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	}
	code := gameauth.ErrorCode(err)
	if status, ok := statusByCode[code]; ok {
		return status, code
	}
	return http.StatusInternalServerError, code
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)

	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: http.StatusText(status), Code: code})
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Error: http.StatusText(http.StatusBadRequest),
		Code:  "INVALID_REQUEST",
	})
}
