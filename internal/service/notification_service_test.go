package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

type channelNotificationStore struct {
	mu       sync.Mutex
	failures int
	out      chan models.Notification
}

func (s *channelNotificationStore) Push(ctx context.Context, notification models.Notification) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("redis unavailable")
	}
	s.mu.Unlock()
	s.out <- notification
	return nil
}

func receiveNotification(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	return models.Notification{}
}

func TestNotificationServiceDeliversApproval(t *testing.T) {
	store := &channelNotificationStore{out: make(chan models.Notification, 4)}
	svc := NewNotificationService(store, nil, NotificationConfig{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.NotifyApproved(ctx, &models.PendingAction{RequestedBy: "admin-a", ActionLabel: "Delete user"})

	n := receiveNotification(t, store.out)
	assert.Equal(t, "admin-a", n.UserID)
	assert.Equal(t, "Action Approved", n.Title)
	assert.Equal(t, "Your request to Delete user has been approved. You may now execute the action.", n.Message)
	assert.Equal(t, "/admin/pending-actions", n.Link)
	assert.Equal(t, "check-circle", n.Icon)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestNotificationServiceRetriesRejection(t *testing.T) {
	store := &channelNotificationStore{failures: 1, out: make(chan models.Notification, 4)}
	svc := NewNotificationService(store, nil, NotificationConfig{Workers: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	reason := "insufficient evidence"
	svc.NotifyRejected(ctx, &models.PendingAction{RequestedBy: "admin-a", ActionLabel: "Ban user permanently", RejectionReason: &reason})

	n := receiveNotification(t, store.out)
	assert.Equal(t, "Action Rejected", n.Title)
	assert.Equal(t, "Your request to Ban user permanently has been rejected. Reason: insufficient evidence", n.Message)
	assert.Equal(t, "x-circle", n.Icon)
}

func TestNotificationServiceNotStartedDoesNotBlock(t *testing.T) {
	store := &channelNotificationStore{out: make(chan models.Notification, 1)}
	svc := NewNotificationService(store, nil, NotificationConfig{})

	done := make(chan struct{})
	go func() {
		svc.Notify(context.Background(), "admin-a", models.Notification{Title: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked")
	}
	require.Len(t, store.out, 0)
}

type stuckNotificationStore struct {
	entered chan struct{}
	once    sync.Once
}

func (s *stuckNotificationStore) Push(ctx context.Context, notification models.Notification) error {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func TestNotificationServiceDropsWhenQueueFull(t *testing.T) {
	store := &stuckNotificationStore{entered: make(chan struct{})}
	svc := NewNotificationService(store, nil, NotificationConfig{Workers: 1, BufferSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	defer svc.Stop()
	defer cancel()

	action := &models.PendingAction{ID: "pa-1", RequestedBy: "admin-a", ActionLabel: "Delete user"}
	svc.NotifyApproved(ctx, action)
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first notification")
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			svc.NotifyApproved(ctx, action)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyApproved blocked with a full delivery queue")
	}
}
