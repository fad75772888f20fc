package lock

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager binds lock resource names to domain concepts. It centralizes key
// naming and default TTLs; it holds no state beyond the Redis client.
type Manager struct {
	client      *redis.Client
	syncTTL     time.Duration
	snapshotTTL time.Duration
}

// NewManager creates a lock manager with default TTLs for sync and snapshot locks
func NewManager(client *redis.Client, syncTTL, snapshotTTL time.Duration) *Manager {
	if syncTTL <= 0 {
		syncTTL = 30 * time.Second
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}
	return &Manager{
		client:      client,
		syncTTL:     syncTTL,
		snapshotTTL: snapshotTTL,
	}
}

// SyncLock returns the lock serializing syncs of one integration
func (m *Manager) SyncLock(userID, integrationID string) *DistributedLock {
	return New(m.client, fmt.Sprintf("sync:%s:%s", userID, integrationID), m.syncTTL)
}

// SnapshotLock returns the lock serializing snapshot writes for one user
func (m *Manager) SnapshotLock(userID string) *DistributedLock {
	return New(m.client, fmt.Sprintf("snapshot:%s", userID), m.snapshotTTL)
}
