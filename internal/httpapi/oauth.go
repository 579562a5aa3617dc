package httpapi

import (
	"net/http"

	"github.com/MrEthical07/gameauth"
	"github.com/gin-gonic/gin"
)

// GET /oauth/:provider/login redirects to the provider.
func (h *Handler) oauthLogin(c *gin.Context) {
	start, err := h.engine.BeginLink(c.Request.Context(), c.Param("provider"), "")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, start.URL)
}

// GET /oauth/:provider/callback
func (h *Handler) oauthCallback(c *gin.Context) {
	res, err := h.engine.HandleCallback(c.Request.Context(), c.Param("provider"), gameauth.CallbackParams{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
		SubjectID:        h.optionalSubject(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	switch {
	case res.ChallengeToken != "":
		c.JSON(http.StatusAccepted, challengeResponse{
			ChallengeRequired:  true,
			ChallengeToken:     res.ChallengeToken,
			ChallengeExpiresAt: res.ChallengeExpiresAt,
		})
	case res.Session != nil:
		resp := h.session(c, res.Identity.ID, res.Session)
		resp.Created = res.Created
		resp.Linked = res.Linked
		c.JSON(http.StatusOK, resp)
	default:
		c.JSON(http.StatusOK, gin.H{
			"linked":    true,
			"providers": res.Identity.ProviderNames(),
		})
	}
}

type linkRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// POST /oauth/link starts an explicit link for the caller.
func (h *Handler) oauthLink(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	start, err := h.engine.BeginLink(c.Request.Context(), req.Provider, subject(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":   start.Provider,
		"url":        start.URL,
		"expires_at": start.ExpiresAt,
	})
}

// DELETE /oauth/unlink/:provider
func (h *Handler) oauthUnlink(c *gin.Context) {
	identity, err := h.engine.Unlink(c.Request.Context(), subject(c), c.Param("provider"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": identity.ProviderNames()})
}
