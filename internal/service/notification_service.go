package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	"github.com/noah-isme/mentor-trust-api/pkg/jobs"
)

const (
	notificationJobType      = "admin.notification"
	notificationTypeApproval = "approval"
	pendingActionsLink       = "/admin/pending-actions"
)

type notificationStore interface {
	Push(ctx context.Context, notification models.Notification) error
}

// NotificationConfig sizes the delivery worker pool.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

const defaultNotificationBuffer = 256

// NotificationService delivers admin notifications asynchronously. Delivery
// failures are logged and never surface to the workflow that triggered them.
type NotificationService struct {
	store  notificationStore
	queue  *jobs.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewNotificationService builds the service and its delivery queue.
func NewNotificationService(store notificationStore, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultNotificationBuffer
	}
	svc := &NotificationService{store: store, logger: logger, now: time.Now}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		DeadLetter: func(job jobs.Job, err error) {
			logger.Error("notification dropped", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
		},
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains and stops the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify queues a notification for userID. It never blocks on delivery; when
// the buffer is full the notification is dropped and logged.
func (s *NotificationService) Notify(ctx context.Context, userID string, n models.Notification) {
	n.UserID = userID
	if n.Type == "" {
		n.Type = notificationTypeApproval
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	job := jobs.Job{ID: uuid.NewString(), Type: notificationJobType, Payload: n}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("notification dropped", zap.String("user_id", userID), zap.String("title", n.Title), zap.Error(err))
	}
}

// NotifyApproved tells the requester their request can now be executed.
func (s *NotificationService) NotifyApproved(ctx context.Context, action *models.PendingAction) {
	s.Notify(ctx, action.RequestedBy, models.Notification{
		Title:   "Action Approved",
		Message: fmt.Sprintf("Your request to %s has been approved. You may now execute the action.", action.ActionLabel),
		Link:    pendingActionsLink,
		Icon:    "check-circle",
	})
}

// NotifyRejected tells the requester why their request was turned down.
func (s *NotificationService) NotifyRejected(ctx context.Context, action *models.PendingAction) {
	reason := ""
	if action.RejectionReason != nil {
		reason = *action.RejectionReason
	}
	s.Notify(ctx, action.RequestedBy, models.Notification{
		Title:   "Action Rejected",
		Message: fmt.Sprintf("Your request to %s has been rejected. Reason: %s", action.ActionLabel, reason),
		Link:    pendingActionsLink,
		Icon:    "x-circle",
	})
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.store.Push(ctx, notification)
}
