package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-trust-api/internal/dto"
	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/response"
)

type approvalService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreatePendingActionRequest) (*models.PendingAction, error)
	List(ctx context.Context, actor models.Actor, query dto.PendingActionQuery) (*models.PendingActionList, error)
	Get(ctx context.Context, id string) (*models.PendingAction, error)
	Approve(ctx context.Context, actor models.Actor, id string) (*models.PendingAction, error)
	Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.PendingAction, error)
	Execute(ctx context.Context, actor models.Actor, id string) (*models.ExecutionOutcome, error)
	Cancel(ctx context.Context, actor models.Actor, id string) (*models.PendingAction, error)
}

// PendingActionHandler exposes the two-person approval workflow.
type PendingActionHandler struct {
	service approvalService
}

// NewPendingActionHandler constructs the handler.
func NewPendingActionHandler(service approvalService) *PendingActionHandler {
	return &PendingActionHandler{service: service}
}

// Create godoc
// @Summary Request a risk-critical action
// @Tags PendingActions
// @Accept json
// @Produce json
// @Param payload body dto.CreatePendingActionRequest true "Pending action payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /pending-actions [post]
func (h *PendingActionHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreatePendingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid pending action payload"))
		return
	}
	action, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, action)
}

// List godoc
// @Summary List pending actions
// @Tags PendingActions
// @Produce json
// @Param status query string false "pending (default), all, or a single status"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /pending-actions [get]
func (h *PendingActionHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.PendingActionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	list, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}
	response.JSON(c, http.StatusOK, list.Items, response.Paginate(query.Page, limit, list.Total), map[string]interface{}{
		"pendingForApproval": list.PendingForApproval,
	})
}

// Get godoc
// @Summary Get a pending action
// @Tags PendingActions
// @Produce json
// @Param id path string true "Pending action ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /pending-actions/{id} [get]
func (h *PendingActionHandler) Get(c *gin.Context) {
	action, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, action, nil)
}

// Approve godoc
// @Summary Approve a pending action
// @Description The approver must be a different administrator than the requester.
// @Tags PendingActions
// @Produce json
// @Param id path string true "Pending action ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /pending-actions/{id}/approve [post]
func (h *PendingActionHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	action, err := h.service.Approve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, action, nil)
}

// Reject godoc
// @Summary Reject a pending action
// @Tags PendingActions
// @Accept json
// @Produce json
// @Param id path string true "Pending action ID"
// @Param payload body dto.RejectPendingActionRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /pending-actions/{id}/reject [post]
func (h *PendingActionHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectPendingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required"))
		return
	}
	action, err := h.service.Reject(c.Request.Context(), actor, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, action, nil)
}

// Execute godoc
// @Summary Execute an approved action
// @Description Only the original requester may execute, and only once.
// @Tags PendingActions
// @Produce json
// @Param id path string true "Pending action ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /pending-actions/{id}/execute [post]
func (h *PendingActionHandler) Execute(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	outcome, err := h.service.Execute(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Cancel godoc
// @Summary Withdraw a pending action
// @Tags PendingActions
// @Produce json
// @Param id path string true "Pending action ID"
// @Success 200 {object} response.Envelope
// @Router /pending-actions/{id}/cancel [post]
func (h *PendingActionHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	action, err := h.service.Cancel(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, action, nil)
}
