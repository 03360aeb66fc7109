package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

const (
	notificationKeyPrefix = "notifications:"
	notificationInboxSize = 100
)

// NotificationRepository stores admin notifications in per-user Redis lists
// and publishes them for live subscribers.
type NotificationRepository struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewNotificationRepository constructs a notification repository.
func NewNotificationRepository(client *redis.Client, channel string, logger *zap.Logger) *NotificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationRepository{client: client, channel: channel, logger: logger}
}

// Push prepends the notification to the recipient inbox, caps the inbox and
// publishes the payload on the configured channel.
func (r *NotificationRepository) Push(ctx context.Context, notification models.Notification) error {
	if r.client == nil {
		r.logger.Debug("notification dropped: redis disabled", zap.String("user_id", notification.UserID))
		return nil
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := notificationKeyPrefix + notification.UserID
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, notificationInboxSize-1)
	if r.channel != "" {
		pipe.Publish(ctx, r.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push notification %s: %w", key, err)
	}
	return nil
}

// Recent returns up to limit notifications for a user, newest first.
func (r *NotificationRepository) Recent(ctx context.Context, userID string, limit int64) ([]models.Notification, error) {
	if r.client == nil {
		return nil, nil
	}
	if limit <= 0 || limit > notificationInboxSize {
		limit = notificationInboxSize
	}

	key := notificationKeyPrefix + userID
	raw, err := r.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read notifications %s: %w", key, err)
	}
	notifications := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			r.logger.Warn("skip malformed notification", zap.String("key", key), zap.Error(err))
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}
