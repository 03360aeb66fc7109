package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/response"
)

type notificationInbox interface {
	Recent(ctx context.Context, userID string, limit int64) ([]models.Notification, error)
}

// NotificationHandler serves the caller's notification inbox.
type NotificationHandler struct {
	inbox notificationInbox
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(inbox notificationInbox) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// Recent godoc
// @Summary Recent notifications
// @Tags Notifications
// @Produce json
// @Param limit query int false "Maximum notifications (default 20)"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) Recent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 || parsed > 100 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be between 1 and 100"))
			return
		}
		limit = parsed
	}
	items, err := h.inbox.Recent(c.Request.Context(), actor.ID, limit)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notifications"))
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	response.JSON(c, http.StatusOK, items, nil)
}
