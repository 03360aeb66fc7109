package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

func pendingFixture(status models.PendingActionStatus, expiresIn time.Duration) *models.PendingAction {
	return &models.PendingAction{
		ID:          "pa-1",
		RequestedBy: "admin-a",
		Action:      "user.delete",
		Status:      status,
		ExpiresAt:   time.Now().Add(expiresIn),
	}
}

func TestPlanTransitionApprove(t *testing.T) {
	now := time.Now()
	transition, err := planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventApprove, "admin-b", now, "")
	require.NoError(t, err)
	assert.Equal(t, models.PendingStatusPending, transition.From)
	assert.Equal(t, models.PendingStatusApproved, transition.To)
	assert.Equal(t, "admin-b", transition.ActorID)
	assert.Nil(t, transition.RejectionReason)

	_, err = planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventApprove, "admin-a", now, "")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, "cannot approve your own request", appErrors.FromError(err).Message)

	_, err = planTransition(pendingFixture(models.PendingStatusPending, -time.Minute), eventApprove, "admin-b", now, "")
	require.ErrorIs(t, err, errRequestExpired)
}

func TestPlanTransitionRejectsNonPendingSources(t *testing.T) {
	for _, status := range []models.PendingActionStatus{
		models.PendingStatusApproved,
		models.PendingStatusRejected,
		models.PendingStatusExecuted,
		models.PendingStatusCancelled,
		models.PendingStatusExpired,
	} {
		for _, event := range []pendingEvent{eventApprove, eventReject, eventCancel, eventExpire} {
			_, err := planTransition(pendingFixture(status, time.Hour), event, "admin-b", time.Now(), "reason")
			require.ErrorIs(t, err, appErrors.ErrInvalidState, "%s from %s", event, status)
		}
	}
}

func TestPlanTransitionReject(t *testing.T) {
	transition, err := planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventReject, "admin-a", time.Now(), "changed my mind")
	require.NoError(t, err)
	require.NotNil(t, transition.RejectionReason)
	assert.Equal(t, "changed my mind", *transition.RejectionReason)
	assert.Equal(t, models.PendingStatusRejected, transition.To)

	_, err = planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventReject, "admin-b", time.Now(), "")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPlanTransitionExecute(t *testing.T) {
	_, err := planTransition(pendingFixture(models.PendingStatusApproved, time.Hour), eventExecute, "admin-a", time.Now(), "")
	require.NoError(t, err)

	_, err = planTransition(pendingFixture(models.PendingStatusApproved, time.Hour), eventExecute, "admin-b", time.Now(), "")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, "only the requester can execute this action", appErrors.FromError(err).Message)

	_, err = planTransition(pendingFixture(models.PendingStatusExecuted, time.Hour), eventExecute, "admin-a", time.Now(), "")
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Equal(t, "action has already been executed", appErrors.FromError(err).Message)

	_, err = planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventExecute, "admin-a", time.Now(), "")
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestPlanTransitionExpireAndCancel(t *testing.T) {
	_, err := planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventExpire, "system", time.Now(), "")
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	transition, err := planTransition(pendingFixture(models.PendingStatusPending, -time.Hour), eventExpire, "system", time.Now(), "")
	require.NoError(t, err)
	assert.Equal(t, models.PendingStatusExpired, transition.To)

	_, err = planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventCancel, "admin-b", time.Now(), "")
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	transition, err = planTransition(pendingFixture(models.PendingStatusPending, time.Hour), eventCancel, "admin-a", time.Now(), "")
	require.NoError(t, err)
	assert.Equal(t, models.PendingStatusCancelled, transition.To)
}
