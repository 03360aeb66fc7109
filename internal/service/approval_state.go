package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

// pendingEvent is an input to the pending action state machine.
type pendingEvent string

const (
	eventApprove pendingEvent = "approve"
	eventReject  pendingEvent = "reject"
	eventExecute pendingEvent = "execute"
	eventCancel  pendingEvent = "cancel"
	eventExpire  pendingEvent = "expire"
)

type pendingEdge struct {
	from models.PendingActionStatus
	to   models.PendingActionStatus
}

// pendingEdges enumerates every legal transition. Anything else is INVALID_STATE.
var pendingEdges = map[pendingEvent]pendingEdge{
	eventApprove: {from: models.PendingStatusPending, to: models.PendingStatusApproved},
	eventReject:  {from: models.PendingStatusPending, to: models.PendingStatusRejected},
	eventCancel:  {from: models.PendingStatusPending, to: models.PendingStatusCancelled},
	eventExpire:  {from: models.PendingStatusPending, to: models.PendingStatusExpired},
	eventExecute: {from: models.PendingStatusApproved, to: models.PendingStatusExecuted},
}

// errRequestExpired is returned by planTransition when an approve/reject hits a
// request whose deadline passed; the caller must force the expired transition.
var errRequestExpired = errors.New("pending action has expired")

// planTransition validates every guard of event against the current request
// and returns the compare-and-swap update to apply.
func planTransition(action *models.PendingAction, event pendingEvent, actorID string, now time.Time, rejectionReason string) (models.PendingActionTransition, error) {
	edge, ok := pendingEdges[event]
	if !ok {
		return models.PendingActionTransition{}, fmt.Errorf("unknown pending action event %q", event)
	}
	if action.Status != edge.from {
		return models.PendingActionTransition{}, invalidStateError(event, action.Status)
	}

	switch event {
	case eventApprove:
		if actorID == action.RequestedBy {
			return models.PendingActionTransition{}, appErrors.Clone(appErrors.ErrForbidden, "cannot approve your own request")
		}
		if now.After(action.ExpiresAt) {
			return models.PendingActionTransition{}, errRequestExpired
		}
	case eventReject:
		if rejectionReason == "" {
			return models.PendingActionTransition{}, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
		}
		if now.After(action.ExpiresAt) {
			return models.PendingActionTransition{}, errRequestExpired
		}
	case eventExecute:
		if actorID != action.RequestedBy {
			return models.PendingActionTransition{}, appErrors.Clone(appErrors.ErrForbidden, "only the requester can execute this action")
		}
	case eventCancel:
		if actorID != action.RequestedBy {
			return models.PendingActionTransition{}, appErrors.Clone(appErrors.ErrForbidden, "only the requester can cancel this request")
		}
	case eventExpire:
		if now.Before(action.ExpiresAt) {
			return models.PendingActionTransition{}, appErrors.Clone(appErrors.ErrInvalidState, "pending action has not expired yet")
		}
	}

	transition := models.PendingActionTransition{
		ID:      action.ID,
		From:    edge.from,
		To:      edge.to,
		At:      now,
		ActorID: actorID,
	}
	if event == eventReject {
		reason := rejectionReason
		transition.RejectionReason = &reason
	}
	return transition, nil
}

func invalidStateError(event pendingEvent, status models.PendingActionStatus) error {
	switch {
	case event == eventExecute && status == models.PendingStatusExecuted:
		return appErrors.Clone(appErrors.ErrInvalidState, "action has already been executed")
	case event == eventExecute:
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("action must be approved before execution (status: %s)", status))
	case status == models.PendingStatusExpired:
		return appErrors.Clone(appErrors.ErrInvalidState, "pending action has expired")
	default:
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot %s a request that is %s", event, status))
	}
}
