package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/dto"
	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

const (
	defaultPendingTTL   = 24 * time.Hour
	defaultPendingLimit = 20
	maxPendingLimit     = 100
	pendingStatusAll    = "all"
)

type pendingActionStore interface {
	Create(ctx context.Context, action *models.PendingAction) error
	GetByID(ctx context.Context, id string) (*models.PendingAction, error)
	List(ctx context.Context, filter models.PendingActionFilter) ([]models.PendingAction, error)
	Count(ctx context.Context, filter models.PendingActionFilter) (int, error)
	Transition(ctx context.Context, t models.PendingActionTransition) (*models.PendingAction, error)
	RecordExecution(ctx context.Context, id string, result types.JSONText, execErr *string) error
	ExpireDue(ctx context.Context, now time.Time) ([]models.PendingAction, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type approvalNotifier interface {
	NotifyApproved(ctx context.Context, action *models.PendingAction)
	NotifyRejected(ctx context.Context, action *models.PendingAction)
}

type targetNameResolver interface {
	Resolve(ctx context.Context, targetType models.TargetType, id string) string
}

type reauthChecker interface {
	LastReauth(ctx context.Context, userID string) (*time.Time, error)
}

type approvalMetrics interface {
	ObserveTransition(from, to models.PendingActionStatus)
	ObserveExecutionFailure(action string)
	ObserveSweep(expired int, purged int64, err error)
}

// ApprovalConfig holds workflow timings.
type ApprovalConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	// Retention is how long terminal requests are kept; zero keeps them forever.
	Retention     time.Duration
	EnforceReauth bool
}

// ApprovalService runs the two-person rule for critical administrative actions.
type ApprovalService struct {
	store     pendingActionStore
	audit     auditAppender
	executors map[string]ActionExecutor
	notifier  approvalNotifier
	resolver  targetNameResolver
	reauth    reauthChecker
	metrics   approvalMetrics
	validator *validator.Validate
	cfg       ApprovalConfig
	logger    *zap.Logger
	now       func() time.Time
}

// ApprovalOption configures the service.
type ApprovalOption func(*ApprovalService)

// WithActionExecutors registers executors keyed by action identifier.
func WithActionExecutors(executors map[string]ActionExecutor) ApprovalOption {
	return func(s *ApprovalService) {
		for action, executor := range executors {
			if executor != nil {
				s.executors[action] = executor
			}
		}
	}
}

// WithApprovalNotifier sets the requester notification sink.
func WithApprovalNotifier(notifier approvalNotifier) ApprovalOption {
	return func(s *ApprovalService) {
		s.notifier = notifier
	}
}

// WithTargetNameResolver sets the resolver used when callers omit targetName.
func WithTargetNameResolver(resolver targetNameResolver) ApprovalOption {
	return func(s *ApprovalService) {
		s.resolver = resolver
	}
}

// WithReauthChecker enables re-authentication stamping on create.
func WithReauthChecker(checker reauthChecker) ApprovalOption {
	return func(s *ApprovalService) {
		s.reauth = checker
	}
}

// WithApprovalMetrics wires transition and sweep instrumentation.
func WithApprovalMetrics(metrics approvalMetrics) ApprovalOption {
	return func(s *ApprovalService) {
		s.metrics = metrics
	}
}

// WithApprovalClock overrides the time source.
func WithApprovalClock(now func() time.Time) ApprovalOption {
	return func(s *ApprovalService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewApprovalService constructs the workflow.
func NewApprovalService(store pendingActionStore, audit auditAppender, cfg ApprovalConfig, logger *zap.Logger, opts ...ApprovalOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultPendingTTL
	}
	svc := &ApprovalService{
		store:     store,
		audit:     audit,
		executors: make(map[string]ActionExecutor),
		validator: validator.New(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	svc.validator.RegisterValidation("target_type", func(fl validator.FieldLevel) bool {
		return models.TargetType(fl.Field().String()).Valid()
	})
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create stores a new pending request and records it on the ledger.
func (s *ApprovalService) Create(ctx context.Context, actor models.Actor, req dto.CreatePendingActionRequest) (*models.PendingAction, error) {
	req.Action = strings.TrimSpace(req.Action)
	req.Reason = strings.TrimSpace(req.Reason)
	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.Action == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action is required")
	}
	if req.Reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if req.TargetID == "" && len(req.TargetIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targetId or targetIds is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	details := types.JSONText(`{}`)
	if len(req.Details) > 0 {
		raw, err := json.Marshal(req.Details)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "details must be a JSON object")
		}
		details = raw
	}

	now := s.now().UTC()
	targetType := models.TargetType(req.TargetType)
	action := &models.PendingAction{
		RequestedBy:     actor.ID,
		RequestedByName: actor.Name,
		Action:          req.Action,
		ActionLabel:     strings.TrimSpace(req.ActionLabel),
		RiskLevel:       Classify(req.Action),
		TargetType:      targetType,
		TargetID:        req.TargetID,
		TargetIDs:       req.TargetIDs,
		TargetName:      strings.TrimSpace(req.TargetName),
		Reason:          req.Reason,
		Details:         details,
		Status:          models.PendingStatusPending,
		ExpiresAt:       now.Add(s.cfg.TTL),
		IPAddress:       actor.IPAddress,
		UserAgent:       actor.UserAgent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if action.ActionLabel == "" {
		action.ActionLabel = ActionLabel(action.Action)
	}
	annotate(action)
	if action.TargetName == "" && s.resolver != nil {
		action.TargetName = s.resolver.Resolve(ctx, targetType, action.TargetID)
	}

	if err := s.stampReauth(ctx, actor, action); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, action); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create pending action")
	}

	s.record(ctx, actor, models.AuditActionPendingCreate, action, nil, map[string]interface{}{
		"action":     action.Action,
		"targetType": action.TargetType,
		"targetName": action.TargetName,
		"reason":     action.Reason,
	}, action.Reason, nil)

	s.logger.Info("pending action created",
		zap.String("id", action.ID),
		zap.String("action", action.Action),
		zap.String("risk_level", string(action.RiskLevel)),
		zap.String("requested_by", actor.ID),
	)
	return action, nil
}

func (s *ApprovalService) stampReauth(ctx context.Context, actor models.Actor, action *models.PendingAction) error {
	if s.reauth == nil {
		return nil
	}
	at, err := s.reauth.LastReauth(ctx, actor.ID)
	if err != nil {
		s.logger.Warn("failed to read reauthentication state", zap.String("user_id", actor.ID), zap.Error(err))
	}
	if at != nil {
		stamped := at.UTC()
		action.ReauthenticatedAt = &stamped
		return nil
	}
	if s.cfg.EnforceReauth && RequiresReauth(action.Action) {
		return appErrors.Clone(appErrors.ErrForbidden, "re-authentication required for this action")
	}
	return nil
}

// List returns requests newest first together with the number of requests
// the caller could approve right now.
func (s *ApprovalService) List(ctx context.Context, actor models.Actor, query dto.PendingActionQuery) (*models.PendingActionList, error) {
	filter := models.PendingActionFilter{}
	switch status := strings.ToLower(strings.TrimSpace(query.Status)); status {
	case "":
		filter.Status = []models.PendingActionStatus{models.PendingStatusPending}
	case pendingStatusAll:
	default:
		if !models.PendingActionStatus(status).Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
		filter.Status = []models.PendingActionStatus{models.PendingActionStatus(status)}
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	items, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending actions")
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending actions")
	}
	now := s.now().UTC()
	awaiting, err := s.store.Count(ctx, models.PendingActionFilter{
		Status:             []models.PendingActionStatus{models.PendingStatusPending},
		ExcludeRequestedBy: actor.ID,
		NotExpiredAt:       &now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending approvals")
	}
	if items == nil {
		items = []models.PendingAction{}
	}
	for i := range items {
		annotate(&items[i])
	}
	return &models.PendingActionList{Items: items, Total: total, PendingForApproval: awaiting}, nil
}

// Get loads a single request.
func (s *ApprovalService) Get(ctx context.Context, id string) (*models.PendingAction, error) {
	return s.load(ctx, id)
}

// Approve records the second administrator's consent.
func (s *ApprovalService) Approve(ctx context.Context, actor models.Actor, id string) (*models.PendingAction, error) {
	action, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	transition, err := planTransition(action, eventApprove, actor.ID, now, "")
	if err != nil {
		return nil, s.handleExpired(ctx, action, now, err)
	}
	updated, err := s.apply(ctx, transition, eventApprove)
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, models.AuditActionPendingApprove, updated,
		map[string]interface{}{"status": models.PendingStatusPending},
		map[string]interface{}{"status": models.PendingStatusApproved},
		"", map[string]interface{}{
			"originalRequestedBy":   updated.RequestedByName,
			"originalRequestedById": updated.RequestedBy,
		})
	if s.notifier != nil {
		s.notifier.NotifyApproved(ctx, updated)
	}
	s.logger.Info("pending action approved", zap.String("id", updated.ID), zap.String("approved_by", actor.ID))
	return updated, nil
}

// Reject turns a request down with a mandatory reason.
func (s *ApprovalService) Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.PendingAction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	if err := s.validator.Struct(dto.RejectPendingActionRequest{Reason: reason}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection reason")
	}
	action, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	transition, err := planTransition(action, eventReject, actor.ID, now, reason)
	if err != nil {
		return nil, s.handleExpired(ctx, action, now, err)
	}
	updated, err := s.apply(ctx, transition, eventReject)
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, models.AuditActionPendingReject, updated,
		map[string]interface{}{"status": models.PendingStatusPending},
		map[string]interface{}{"status": models.PendingStatusRejected, "rejectionReason": reason},
		reason, nil)
	if s.notifier != nil {
		s.notifier.NotifyRejected(ctx, updated)
	}
	s.logger.Info("pending action rejected", zap.String("id", updated.ID), zap.String("rejected_by", actor.ID))
	return updated, nil
}

// Cancel withdraws a request that is still pending. Only the requester may do so.
func (s *ApprovalService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.PendingAction, error) {
	action, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	transition, err := planTransition(action, eventCancel, actor.ID, s.now().UTC(), "")
	if err != nil {
		return nil, err
	}
	updated, err := s.apply(ctx, transition, eventCancel)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, models.AuditActionPendingCancel, updated,
		map[string]interface{}{"status": models.PendingStatusPending},
		map[string]interface{}{"status": models.PendingStatusCancelled},
		"", nil)
	return updated, nil
}

// Execute claims an approved request and runs its executor exactly once. The
// executed status is committed before the executor runs, so a failed effect is
// recorded on the request and the ledger instead of being retried.
func (s *ApprovalService) Execute(ctx context.Context, actor models.Actor, id string) (*models.ExecutionOutcome, error) {
	action, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	transition, err := planTransition(action, eventExecute, actor.ID, s.now().UTC(), "")
	if err != nil {
		return nil, err
	}
	executor, ok := s.executors[action.Action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("no executor registered for action %s", action.Action))
	}
	claimed, err := s.apply(ctx, transition, eventExecute)
	if err != nil {
		return nil, err
	}

	result, execErr := executor.Execute(ctx, claimed)
	outcome := &models.ExecutionOutcome{PendingActionID: claimed.ID, Action: claimed.Action, Result: result}
	var errMsg *string
	if execErr != nil {
		msg := execErr.Error()
		errMsg = &msg
		outcome.Error = msg
		if s.metrics != nil {
			s.metrics.ObserveExecutionFailure(claimed.Action)
		}
		s.logger.Error("pending action execution failed", zap.String("id", claimed.ID), zap.String("action", claimed.Action), zap.Error(execErr))
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("execution result is not serialisable", zap.String("id", claimed.ID), zap.Error(err))
		encoded = []byte("null")
	}
	if err := s.store.RecordExecution(ctx, claimed.ID, types.JSONText(encoded), errMsg); err != nil {
		s.logger.Error("failed to record execution result", zap.String("id", claimed.ID), zap.Error(err))
	} else {
		claimed.ExecutionResult = encoded
		claimed.ExecutionError = errMsg
	}

	metadata := map[string]interface{}{
		"pendingActionId": claimed.ID,
		"approvedBy":      derefString(claimed.ApprovedBy),
	}
	after := interface{}(result)
	if execErr != nil {
		metadata["executionError"] = outcome.Error
		after = map[string]interface{}{"error": outcome.Error}
	}
	if s.audit != nil {
		if _, err := s.audit.Append(ctx, models.AuditEntry{
			Actor:       actor,
			Action:      claimed.Action,
			ActionLabel: claimed.ActionLabel,
			TargetType:  string(claimed.TargetType),
			TargetID:    claimed.TargetID,
			TargetIDs:   claimed.TargetIDs,
			TargetName:  claimed.TargetName,
			After:       after,
			Reason:      claimed.Reason,
			RiskLevel:   claimed.RiskLevel,
			Metadata:    metadata,
		}); err != nil {
			s.logger.Error("failed to audit execution", zap.String("id", claimed.ID), zap.Error(err))
		}
	}

	if execErr != nil {
		var appErr *appErrors.Error
		if errors.As(execErr, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(execErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "action execution failed")
	}
	s.logger.Info("pending action executed", zap.String("id", claimed.ID), zap.String("action", claimed.Action))
	return outcome, nil
}

// ExpireSweep moves every overdue pending request to expired. The update is
// conditional on the pending status, so requests approved or rejected in the
// meantime are left untouched.
func (s *ApprovalService) ExpireSweep(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire pending actions")
	}
	for i := range expired {
		s.afterExpire(ctx, &expired[i])
	}
	return len(expired), nil
}

// Sweep expires overdue requests and purges terminal ones past retention.
func (s *ApprovalService) Sweep(ctx context.Context) (*models.SweepReport, error) {
	report := &models.SweepReport{RanAt: s.now().UTC()}
	expired, err := s.ExpireSweep(ctx)
	report.Expired = expired
	if err == nil && s.cfg.Retention > 0 {
		report.Purged, err = s.store.PurgeTerminalBefore(ctx, report.RanAt.Add(-s.cfg.Retention))
		if err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge pending actions")
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveSweep(report.Expired, report.Purged, err)
	}
	if err != nil {
		return report, err
	}
	if report.Expired > 0 || report.Purged > 0 {
		s.logger.Info("pending action sweep", zap.Int("expired", report.Expired), zap.Int64("purged", report.Purged))
	}
	return report, nil
}

// StartExpirySweeper boots a goroutine that sweeps on the configured interval.
func (s *ApprovalService) StartExpirySweeper(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Sugar().Warnw("pending action sweep failed", "error", err)
				}
			}
		}
	}()
}

func (s *ApprovalService) load(ctx context.Context, id string) (*models.PendingAction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pending action id is required")
	}
	action, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pending action not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending action")
	}
	annotate(action)
	return action, nil
}

// annotate fills the fields derived from the action classification.
func annotate(action *models.PendingAction) {
	action.RequiresApproval = RequiresApproval(action.Action)
}

// apply runs the compare-and-swap. A lost race is reported against the status
// that won it.
func (s *ApprovalService) apply(ctx context.Context, transition models.PendingActionTransition, event pendingEvent) (*models.PendingAction, error) {
	updated, err := s.store.Transition(ctx, transition)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update pending action")
		}
		current, loadErr := s.load(ctx, transition.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, invalidStateError(event, current.Status)
	}
	if s.metrics != nil {
		s.metrics.ObserveTransition(transition.From, transition.To)
	}
	annotate(updated)
	return updated, nil
}

// handleExpired converts errRequestExpired into the forced expiry of the
// request and an INVALID_STATE answer. Other errors pass through.
func (s *ApprovalService) handleExpired(ctx context.Context, action *models.PendingAction, now time.Time, err error) error {
	if !errors.Is(err, errRequestExpired) {
		return err
	}
	system := models.SystemActor()
	transition, planErr := planTransition(action, eventExpire, system.ID, now, "")
	if planErr == nil {
		if expired, applyErr := s.apply(ctx, transition, eventExpire); applyErr == nil {
			s.afterExpire(ctx, expired)
		}
	}
	return invalidStateError(eventApprove, models.PendingStatusExpired)
}

func (s *ApprovalService) afterExpire(ctx context.Context, action *models.PendingAction) {
	s.record(ctx, models.SystemActor(), models.AuditActionPendingExpire, action,
		map[string]interface{}{"status": models.PendingStatusPending},
		map[string]interface{}{"status": models.PendingStatusExpired},
		"", map[string]interface{}{"expiresAt": action.ExpiresAt.UTC().Format(time.RFC3339)})
}

// record appends a ledger entry about the request itself. The status change is
// already committed, so a ledger failure is logged rather than returned.
func (s *ApprovalService) record(ctx context.Context, actor models.Actor, auditAction string, action *models.PendingAction, before, after interface{}, reason string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["pendingActionId"] = action.ID
	_, err := s.audit.Append(ctx, models.AuditEntry{
		Actor:       actor,
		Action:      auditAction,
		ActionLabel: ActionLabel(auditAction),
		TargetType:  string(models.TargetPending),
		TargetID:    action.ID,
		TargetName:  pendingTargetName(action),
		Before:      before,
		After:       after,
		Reason:      reason,
		RiskLevel:   action.RiskLevel,
		Metadata:    metadata,
	})
	if err != nil {
		s.logger.Error("failed to audit pending action",
			zap.String("id", action.ID),
			zap.String("audit_action", auditAction),
			zap.Error(err),
		)
	}
}

func pendingTargetName(action *models.PendingAction) string {
	if action.TargetName == "" {
		return action.Action
	}
	return action.Action + " - " + action.TargetName
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
