package httpapi

import (
	"net/http"

	"github.com/MrEthical07/gameauth"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Extended   bool   `json:"extended"`
}

// POST /login
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res, err := h.engine.Login(c.Request.Context(), req.Identifier, req.Password, req.Extended)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.ChallengeRequired() {
		c.JSON(http.StatusAccepted, challengeResponse{
			ChallengeRequired:  true,
			ChallengeToken:     res.ChallengeToken,
			ChallengeExpiresAt: res.ChallengeExpiresAt,
		})
		return
	}
	c.JSON(http.StatusOK, h.session(c, res.UserID, res.Session))
}

type challengeRequest struct {
	ChallengeToken string `json:"challenge_token" binding:"required"`
	Code           string `json:"code"`
	BackupCode     string `json:"backup_code"`
}

// POST /2fa/verify
func (h *Handler) completeChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	pair, err := h.engine.CompleteChallenge(c.Request.Context(), req.ChallengeToken, gameauth.ChallengeProof{
		TOTPCode:   req.Code,
		BackupCode: req.BackupCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session(c, "", pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// POST /token/refresh
func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c)
		return
	}
	token := refreshToken(c, req.RefreshToken)
	if token == "" {
		h.fail(c, gameauth.ErrRefreshInvalid)
		return
	}

	pair, err := h.engine.RefreshSession(c.Request.Context(), token)
	if err != nil {
		h.clearCookies(c)
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session(c, "", pair))
}

// POST /logout
func (h *Handler) logout(c *gin.Context) {
	var req refreshRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c)
		return
	}
	if token := refreshToken(c, req.RefreshToken); token != "" {
		if err := h.engine.Logout(c.Request.Context(), token); err != nil {
			h.fail(c, err)
			return
		}
	}
	h.clearCookies(c)
	c.Status(http.StatusNoContent)
}

// POST /2fa/setup
func (h *Handler) beginSetup(c *gin.Context) {
	setup, err := h.engine.BeginTwoFactorSetup(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
		"backup_codes":     setup.BackupCodes,
	})
}

type verifySetupRequest struct {
	Secret string `json:"secret" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// POST /2fa/verify-setup
func (h *Handler) verifySetup(c *gin.Context) {
	var req verifySetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if _, err := h.engine.VerifyAndEnableTwoFactor(c.Request.Context(), subject(c), req.Secret, req.Code); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

// POST /2fa/disable
func (h *Handler) disableTwoFactor(c *gin.Context) {
	if _, err := h.engine.DisableTwoFactor(c.Request.Context(), subject(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}
