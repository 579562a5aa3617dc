package httpapi

import (
	"net/http"

	"github.com/MrEthical07/gameauth"
	"github.com/gin-gonic/gin"
)

type deleteAccountRequest struct {
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// DELETE /account
func (h *Handler) deleteAccount(c *gin.Context) {
	var req deleteAccountRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c)
		return
	}

	summary, err := h.engine.DeleteAccount(c.Request.Context(), subject(c), gameauth.DeleteRequest{
		Password:     req.Password,
		Confirmation: req.Confirmation,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.clearCookies(c)
	c.JSON(http.StatusOK, summary)
}
