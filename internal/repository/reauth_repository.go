package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const reauthKeyPrefix = "reauth:"

// ReauthRepository remembers when each admin last re-entered their password.
// Entries expire with the re-authentication window. Without Redis it falls
// back to process memory, which is enough for a single instance.
type ReauthRepository struct {
	client *redis.Client

	mu    sync.Mutex
	local map[string]reauthEntry
}

type reauthEntry struct {
	at        time.Time
	expiresAt time.Time
}

// NewReauthRepository constructs the repository.
func NewReauthRepository(client *redis.Client) *ReauthRepository {
	return &ReauthRepository{client: client, local: make(map[string]reauthEntry)}
}

// Mark records a successful re-authentication valid for window.
func (r *ReauthRepository) Mark(ctx context.Context, userID string, at time.Time, window time.Duration) error {
	if r.client == nil {
		r.mu.Lock()
		r.local[userID] = reauthEntry{at: at, expiresAt: at.Add(window)}
		r.mu.Unlock()
		return nil
	}
	key := reauthKeyPrefix + userID
	if err := r.client.Set(ctx, key, at.UnixMilli(), window).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Last returns the most recent re-authentication still inside its window.
func (r *ReauthRepository) Last(ctx context.Context, userID string) (time.Time, bool, error) {
	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		entry, ok := r.local[userID]
		if !ok {
			return time.Time{}, false, nil
		}
		if !time.Now().Before(entry.expiresAt) {
			delete(r.local, userID)
			return time.Time{}, false, nil
		}
		return entry.at, true, nil
	}

	key := reauthKeyPrefix + userID
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse reauth timestamp %s: %w", key, err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}
