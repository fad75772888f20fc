package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cooldownKeyPrefix = "sync_cooldown:"
	activeKeyPrefix   = "sync_active:"
	lastSyncKeyPrefix = "sync_last:"

	activeSyncExpiry = 5 * time.Minute
)

// SyncTracker keeps per-user sync bookkeeping in Redis: trigger cooldowns,
// the currently running sync, and the last successful sync time. Shared
// across worker processes, so it lives in Redis rather than memory.
type SyncTracker struct {
	client *redis.Client
}

// NewSyncTracker creates a sync tracker
func NewSyncTracker(client *redis.Client) *SyncTracker {
	return &SyncTracker{client: client}
}

// RemainingCooldown returns how long until the user may trigger a sync again
func (t *SyncTracker) RemainingCooldown(ctx context.Context, userID string) (time.Duration, error) {
	ttl, err := t.client.TTL(ctx, cooldownKeyPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cooldown: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// CanTrigger reports whether the user's cooldown has elapsed
func (t *SyncTracker) CanTrigger(ctx context.Context, userID string) (bool, error) {
	remaining, err := t.RemainingCooldown(ctx, userID)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// StartCooldown begins a trigger cooldown for the user. Zero duration disables it.
func (t *SyncTracker) StartCooldown(ctx context.Context, userID string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return t.client.SetEx(ctx, cooldownKeyPrefix+userID, "active", d).Err()
}

// SetActiveSync records the integration currently being synced for the user.
// The marker self-expires in case the worker dies mid-sync.
func (t *SyncTracker) SetActiveSync(ctx context.Context, userID, integrationID string) error {
	return t.client.SetEx(ctx, activeKeyPrefix+userID, integrationID, activeSyncExpiry).Err()
}

// ActiveSync returns the integration ID of the running sync, or "" when idle
func (t *SyncTracker) ActiveSync(ctx context.Context, userID string) (string, error) {
	val, err := t.client.Get(ctx, activeKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active sync: %w", err)
	}
	return val, nil
}

// ClearActiveSync removes the running-sync marker
func (t *SyncTracker) ClearActiveSync(ctx context.Context, userID string) error {
	return t.client.Del(ctx, activeKeyPrefix+userID).Err()
}

// MarkSynced records the time of the user's last successful sync
func (t *SyncTracker) MarkSynced(ctx context.Context, userID string) error {
	ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	return t.client.Set(ctx, lastSyncKeyPrefix+userID, ts, 0).Err()
}

// LastSyncTime returns the user's last successful sync time. The bool is
// false when the user has never synced.
func (t *SyncTracker) LastSyncTime(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := t.client.Get(ctx, lastSyncKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last sync timestamp %q: %w", val, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
