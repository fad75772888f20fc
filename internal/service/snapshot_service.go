package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/lock"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/shopspring/decimal"
)

// SnapshotRepository is the snapshot persistence the service needs
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.PortfolioSnapshot) error
	Update(ctx context.Context, snapshot *models.PortfolioSnapshot) error
	FindSince(ctx context.Context, userID string, cutoff time.Time) (*models.PortfolioSnapshot, error)
}

// HoldingAggregator exposes the per-user holding aggregates the snapshot
// completeness check and valuation read from
type HoldingAggregator interface {
	CountDistinctIntegrationsByUser(ctx context.Context, userID string) (int, error)
	SumUSDValueByUser(ctx context.Context, userID string) (decimal.Decimal, bool, error)
}

// IntegrationCounter counts a user's active integrations
type IntegrationCounter interface {
	CountActiveByUser(ctx context.Context, userID string) (int, error)
}

// SnapshotService records point-in-time portfolio valuations. All writes for
// one user are serialized under the user's snapshot lock, and snapshots
// within the dedup window collapse into a single row updated in place.
type SnapshotService struct {
	snapshots    SnapshotRepository
	holdings     HoldingAggregator
	integrations IntegrationCounter
	locks        *lock.Manager

	lockWait      time.Duration
	retryInterval time.Duration
	dedupWindow   time.Duration

	log *logging.Logger
	now func() time.Time
}

// NewSnapshotService creates a snapshot service
func NewSnapshotService(
	snapshots SnapshotRepository,
	holdings HoldingAggregator,
	integrations IntegrationCounter,
	locks *lock.Manager,
	cfg *config.SnapshotConfig,
	retryInterval time.Duration,
	log *logging.Logger,
) *SnapshotService {
	return &SnapshotService{
		snapshots:     snapshots,
		holdings:      holdings,
		integrations:  integrations,
		locks:         locks,
		lockWait:      cfg.LockWait,
		retryInterval: retryInterval,
		dedupWindow:   cfg.DedupWindow,
		log:           log,
		now:           time.Now,
	}
}

// CreateOrUpdateSnapshot records the user's current total valuation under the
// snapshot lock. A skipped snapshot (lock contention, incomplete holdings,
// invalid net worth) returns a nil snapshot with a snapshot-category error
// describing the reason; skips are expected states, not failures.
func (s *SnapshotService) CreateOrUpdateSnapshot(ctx context.Context, userID string, holdingsCount int) (*models.PortfolioSnapshot, error) {
	log := s.log.WithField("userId", userID)

	l := s.locks.SnapshotLock(userID)
	acquired, err := l.Acquire(ctx, s.lockWait, s.retryInterval)
	if err != nil {
		return nil, err
	}
	if !acquired {
		log.Warn("Snapshot lock wait timed out, skipping snapshot")
		return nil, errors.NewSnapshotSkippedError("lock contention")
	}
	defer func() {
		_, _ = l.Release(context.WithoutCancel(ctx))
	}()

	return s.writeSnapshot(ctx, userID, holdingsCount, log)
}

func (s *SnapshotService) writeSnapshot(ctx context.Context, userID string, holdingsCount int, log *logging.Logger) (*models.PortfolioSnapshot, error) {
	total, err := s.integrations.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	synced, err := s.holdings.CountDistinctIntegrationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// A snapshot taken before every integration has synced would record a
	// misleading partial net worth, so wait for the last sync to take it.
	if synced < total {
		log.WithFields(map[string]interface{}{
			"syncedIntegrations": synced,
			"totalIntegrations":  total,
		}).Info("Portfolio incomplete, skipping snapshot")
		return nil, errors.NewSnapshotSkippedError("portfolio incomplete")
	}

	netWorth, hasHoldings, err := s.holdings.SumUSDValueByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasHoldings || netWorth.Sign() < 0 {
		log.WithField("netWorth", netWorth.String()).Warn("Invalid net worth, skipping snapshot")
		return nil, errors.NewSnapshotSkippedError("invalid net worth")
	}

	now := s.now().UTC()
	metadata := models.SnapshotMetadata{
		AssetCount:        holdingsCount,
		IntegrationsCount: synced,
		TotalIntegrations: total,
		IsPartial:         false,
		Source:            "worker_sync",
	}

	existing, err := s.snapshots.FindSince(ctx, userID, now.Add(-s.dedupWindow))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Timestamp = now
		existing.TotalValueUSD = netWorth
		existing.Metadata = metadata
		if err := s.snapshots.Update(ctx, existing); err != nil {
			return nil, err
		}
		log.WithField("snapshotId", existing.ID).Debug("Updated snapshot within dedup window")
		return existing, nil
	}

	snapshot := &models.PortfolioSnapshot{
		ID:            uuid.NewString(),
		UserID:        userID,
		Timestamp:     now,
		TotalValueUSD: netWorth,
		Metadata:      metadata,
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"snapshotId": snapshot.ID,
		"netWorth":   netWorth.String(),
	}).Info("Created portfolio snapshot")
	return snapshot, nil
}
