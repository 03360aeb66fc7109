package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

const pendingActionColumns = `id, requested_by, requested_by_name, action, action_label, risk_level, target_type,
       target_id, target_ids, target_name, reason, details, status, approved_by, approved_at, rejected_by,
       rejected_at, rejection_reason, cancelled_at, executed_at, execution_result, execution_error, expires_at,
       reauthenticated_at, ip_address, user_agent, created_at, updated_at`

// PendingActionRepository persists two-person-rule requests.
type PendingActionRepository struct {
	db *sqlx.DB
}

// NewPendingActionRepository constructs the repository.
func NewPendingActionRepository(db *sqlx.DB) *PendingActionRepository {
	return &PendingActionRepository{db: db}
}

// Create inserts a new pending request.
func (r *PendingActionRepository) Create(ctx context.Context, action *models.PendingAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.PendingStatusPending
	}
	now := time.Now().UTC()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.UpdatedAt = action.CreatedAt
	if len(action.Details) == 0 {
		action.Details = types.JSONText(`{}`)
	}
	if len(action.ExecutionResult) == 0 {
		action.ExecutionResult = types.JSONText(`null`)
	}
	if action.TargetIDs == nil {
		action.TargetIDs = pq.StringArray{}
	}
	const query = `INSERT INTO pending_actions (` + pendingActionColumns + `)
	VALUES (:id, :requested_by, :requested_by_name, :action, :action_label, :risk_level, :target_type,
	        :target_id, :target_ids, :target_name, :reason, :details, :status, :approved_by, :approved_at, :rejected_by,
	        :rejected_at, :rejection_reason, :cancelled_at, :executed_at, :execution_result, :execution_error, :expires_at,
	        :reauthenticated_at, :ip_address, :user_agent, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, action); err != nil {
		return fmt.Errorf("create pending action: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *PendingActionRepository) GetByID(ctx context.Context, id string) (*models.PendingAction, error) {
	query := `SELECT ` + pendingActionColumns + ` FROM pending_actions WHERE id = $1`
	var action models.PendingAction
	if err := r.db.GetContext(ctx, &action, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get pending action: %w", err)
	}
	return &action, nil
}

// List returns requests matching the filter (newest first).
func (r *PendingActionRepository) List(ctx context.Context, filter models.PendingActionFilter) ([]models.PendingAction, error) {
	where, args := pendingFilterClause(filter)

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + pendingActionColumns + ` FROM pending_actions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	var actions []models.PendingAction
	if err := r.db.SelectContext(ctx, &actions, query, args...); err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	return actions, nil
}

// Count returns the number of requests matching the filter, ignoring paging.
func (r *PendingActionRepository) Count(ctx context.Context, filter models.PendingActionFilter) (int, error) {
	where, args := pendingFilterClause(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM pending_actions`+where, args...); err != nil {
		return 0, fmt.Errorf("count pending actions: %w", err)
	}
	return total, nil
}

// Transition applies a compare-and-swap status change. It returns sql.ErrNoRows
// when the request does not exist or its status no longer equals t.From.
func (r *PendingActionRepository) Transition(ctx context.Context, t models.PendingActionTransition) (*models.PendingAction, error) {
	setParts := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{t.To, t.At}
	switch t.To {
	case models.PendingStatusApproved:
		args = append(args, t.ActorID, t.At)
		setParts = append(setParts, fmt.Sprintf("approved_by = $%d", len(args)-1), fmt.Sprintf("approved_at = $%d", len(args)))
	case models.PendingStatusRejected:
		args = append(args, t.ActorID, t.At, t.RejectionReason)
		setParts = append(setParts,
			fmt.Sprintf("rejected_by = $%d", len(args)-2),
			fmt.Sprintf("rejected_at = $%d", len(args)-1),
			fmt.Sprintf("rejection_reason = $%d", len(args)))
	case models.PendingStatusCancelled:
		args = append(args, t.At)
		setParts = append(setParts, fmt.Sprintf("cancelled_at = $%d", len(args)))
	case models.PendingStatusExecuted:
		args = append(args, t.At)
		setParts = append(setParts, fmt.Sprintf("executed_at = $%d", len(args)))
	}
	args = append(args, t.ID, t.From)
	query := fmt.Sprintf("UPDATE pending_actions SET %s WHERE id = $%d AND status = $%d RETURNING %s",
		strings.Join(setParts, ", "), len(args)-1, len(args), pendingActionColumns)

	var action models.PendingAction
	if err := r.db.GetContext(ctx, &action, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("transition pending action %s to %s: %w", t.ID, t.To, err)
	}
	return &action, nil
}

// RecordExecution stores the executor outcome on an executed request.
func (r *PendingActionRepository) RecordExecution(ctx context.Context, id string, result types.JSONText, execErr *string) error {
	if len(result) == 0 {
		result = types.JSONText(`null`)
	}
	const query = `UPDATE pending_actions SET execution_result = $2, execution_error = $3, updated_at = $4
	WHERE id = $1 AND status = 'executed'`
	res, err := r.db.ExecContext(ctx, query, id, result, execErr, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record execution outcome: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check execution outcome rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExpireDue moves every pending request whose deadline has passed to expired.
// The status predicate makes the sweep lose cleanly against a concurrent
// approve/reject that committed first.
func (r *PendingActionRepository) ExpireDue(ctx context.Context, now time.Time) ([]models.PendingAction, error) {
	query := `UPDATE pending_actions SET status = 'expired', updated_at = $1
	WHERE status = 'pending' AND expires_at <= $1
	RETURNING ` + pendingActionColumns
	var expired []models.PendingAction
	if err := r.db.SelectContext(ctx, &expired, query, now); err != nil {
		return nil, fmt.Errorf("expire pending actions: %w", err)
	}
	return expired, nil
}

// PurgeTerminalBefore removes terminal requests last touched before cutoff.
func (r *PendingActionRepository) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM pending_actions
	WHERE status IN ('executed', 'rejected', 'cancelled', 'expired') AND updated_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal pending actions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check purge rows: %w", err)
	}
	return rows, nil
}

func pendingFilterClause(filter models.PendingActionFilter) (string, []interface{}) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if filter.ExcludeRequestedBy != "" {
		args = append(args, filter.ExcludeRequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by <> $%d", len(args)))
	}
	if filter.NotExpiredAt != nil {
		args = append(args, *filter.NotExpiredAt)
		conditions = append(conditions, fmt.Sprintf("expires_at > $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
