package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

// ActionExecutor performs the real effect of an approved request. The returned
// map becomes the "after" state of the execution audit record.
type ActionExecutor interface {
	Execute(ctx context.Context, action *models.PendingAction) (map[string]interface{}, error)
}

// ActionExecutorFunc allows using plain functions.
type ActionExecutorFunc func(ctx context.Context, action *models.PendingAction) (map[string]interface{}, error)

// Execute implements ActionExecutor.
func (f ActionExecutorFunc) Execute(ctx context.Context, action *models.PendingAction) (map[string]interface{}, error) {
	return f(ctx, action)
}

type userMutationRepository interface {
	DeleteWithProfiles(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int64, error)
	Ban(ctx context.Context, id, reason string, at time.Time) error
}

// UserActionExecutors implements the account-level critical actions.
type UserActionExecutors struct {
	repo   userMutationRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewUserActionExecutors constructs executors backed by the user repository.
func NewUserActionExecutors(repo userMutationRepository, logger *zap.Logger) *UserActionExecutors {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserActionExecutors{repo: repo, logger: logger, now: time.Now}
}

// Registry returns the executors keyed by action identifier.
func (e *UserActionExecutors) Registry() map[string]ActionExecutor {
	return map[string]ActionExecutor{
		ActionUserDelete:       ActionExecutorFunc(e.deleteUser),
		ActionUserPermanentBan: ActionExecutorFunc(e.banUser),
		ActionBulkDelete:       ActionExecutorFunc(e.bulkDelete),
	}
}

func (e *UserActionExecutors) deleteUser(ctx context.Context, action *models.PendingAction) (map[string]interface{}, error) {
	userID := strings.TrimSpace(action.TargetID)
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targetId is required for user.delete")
	}
	if err := e.repo.DeleteWithProfiles(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target user not found")
		}
		return nil, fmt.Errorf("delete user %s: %w", userID, err)
	}
	e.logger.Info("user deleted", zap.String("user_id", userID), zap.String("pending_action_id", action.ID))
	return map[string]interface{}{"deleted": true, "userId": userID}, nil
}

func (e *UserActionExecutors) banUser(ctx context.Context, action *models.PendingAction) (map[string]interface{}, error) {
	userID := strings.TrimSpace(action.TargetID)
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targetId is required for user.permanent_ban")
	}
	at := e.now().UTC()
	if err := e.repo.Ban(ctx, userID, action.Reason, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target user not found")
		}
		return nil, fmt.Errorf("ban user %s: %w", userID, err)
	}
	e.logger.Info("user permanently banned", zap.String("user_id", userID), zap.String("pending_action_id", action.ID))
	return map[string]interface{}{"banned": true, "userId": userID, "bannedAt": at.Format(time.RFC3339)}, nil
}

func (e *UserActionExecutors) bulkDelete(ctx context.Context, action *models.PendingAction) (map[string]interface{}, error) {
	ids := make([]string, 0, len(action.TargetIDs))
	for _, id := range action.TargetIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targetIds are required for bulk.delete")
	}
	deleted, err := e.repo.DeleteMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("bulk delete %d users: %w", len(ids), err)
	}
	e.logger.Info("users bulk deleted", zap.Int64("deleted", deleted), zap.Int("requested", len(ids)), zap.String("pending_action_id", action.ID))
	return map[string]interface{}{"deleted": deleted, "requested": len(ids)}, nil
}
