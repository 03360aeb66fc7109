package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/response"
)

type reauthService interface {
	Reauthenticate(ctx context.Context, actor models.Actor, password string) (*models.ReauthResponse, error)
}

// ReauthHandler confirms the caller's password before sensitive actions.
type ReauthHandler struct {
	service reauthService
}

// NewReauthHandler constructs the handler.
func NewReauthHandler(service reauthService) *ReauthHandler {
	return &ReauthHandler{service: service}
}

// Reauthenticate godoc
// @Summary Re-enter password
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.ReauthRequest true "Password"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /reauth [post]
func (h *ReauthHandler) Reauthenticate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.ReauthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "password is required"))
		return
	}
	result, err := h.service.Reauthenticate(c.Request.Context(), actor, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
