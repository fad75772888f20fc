// Package worker runs the periodic sync dispatcher that fans syncs out over
// all active integrations.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/types"
)

// Syncer runs one integration sync end to end
type Syncer interface {
	Sync(ctx context.Context, integrationID string) (types.SyncOutcome, error)
}

// IntegrationLister enumerates the integrations eligible for dispatch
type IntegrationLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Pruner deletes rows older than a cutoff, returning the number removed
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DispatcherConfig holds configuration for a dispatcher
type DispatcherConfig struct {
	Syncer       Syncer
	Integrations IntegrationLister

	// Retention pruning targets; either may be nil to disable
	Snapshots Pruner
	Prices    Pruner

	Interval          time.Duration
	Concurrency       int
	PruneInterval     time.Duration
	SnapshotRetention time.Duration
	PriceRetention    time.Duration

	Logger *logging.Logger
}

// RunStats describes the most recent dispatch cycle
type RunStats struct {
	LastRunAt  time.Time `json:"lastRunAt"`
	Dispatched int       `json:"dispatched"`
	Completed  int       `json:"completed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// Dispatcher periodically lists active integrations and syncs each one with
// bounded concurrency. Per-integration serialization is the sync lock's job;
// the dispatcher only bounds how many syncs run at once in this process.
type Dispatcher struct {
	syncer       Syncer
	integrations IntegrationLister
	snapshots    Pruner
	prices       Pruner

	interval          time.Duration
	concurrency       int
	pruneInterval     time.Duration
	snapshotRetention time.Duration
	priceRetention    time.Duration

	log *logging.Logger

	mu      sync.RWMutex
	running bool
	stats   RunStats

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.Integrations == nil {
		return nil, fmt.Errorf("integration lister cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = time.Hour
	}

	return &Dispatcher{
		syncer:            cfg.Syncer,
		integrations:      cfg.Integrations,
		snapshots:         cfg.Snapshots,
		prices:            cfg.Prices,
		interval:          interval,
		concurrency:       concurrency,
		pruneInterval:     pruneInterval,
		snapshotRetention: cfg.SnapshotRetention,
		priceRetention:    cfg.PriceRetention,
		log:               cfg.Logger.WithField("component", "dispatcher"),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}, nil
}

// Start begins the periodic dispatch loop
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.log.WithFields(map[string]interface{}{
		"interval":    d.interval.String(),
		"concurrency": d.concurrency,
	}).Info("Dispatcher starting")

	go d.loop(ctx)
	return nil
}

// Stop halts the dispatch loop, waiting for the in-flight cycle to finish
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)

	select {
	case <-d.doneCh:
		d.log.Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for dispatcher to stop: %w", ctx.Err())
	}
}

// Stats returns the result of the most recent dispatch cycle
func (d *Dispatcher) Stats() RunStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Running reports whether the dispatch loop is active
func (d *Dispatcher) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(d.pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchAll(ctx)
		case <-pruneTicker.C:
			d.prune(ctx)
		}
	}
}

// DispatchAll syncs every active integration with bounded concurrency and
// records the cycle stats. Individual failures are counted, not propagated:
// one bad integration must not starve the others.
func (d *Dispatcher) DispatchAll(ctx context.Context) RunStats {
	start := time.Now()

	ids, err := d.integrations.ListActiveIDs(ctx)
	if err != nil {
		d.log.WithError(err).Error("Failed to list active integrations")
		return d.Stats()
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		skipped   int
		failed    int
	)
	sem := make(chan struct{}, d.concurrency)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(integrationID string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := d.syncer.Sync(ctx, integrationID)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case types.SyncCompleted:
				completed++
			case types.SyncSkipped:
				skipped++
			case types.SyncFailed:
				failed++
			}
			if err != nil && errors.IsSyncFailure(err) {
				d.log.WithError(err).WithField("integrationId", integrationID).Error("Sync failed")
			}
		}(id)
	}
	wg.Wait()

	stats := RunStats{
		LastRunAt:  start,
		Dispatched: len(ids),
		Completed:  completed,
		Skipped:    skipped,
		Failed:     failed,
	}

	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()

	d.log.WithFields(map[string]interface{}{
		"dispatched": stats.Dispatched,
		"completed":  stats.Completed,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
		"duration":   time.Since(start).String(),
	}).Info("Dispatch cycle finished")
	return stats
}

// TriggerSync runs one integration sync immediately, outside the periodic cycle
func (d *Dispatcher) TriggerSync(ctx context.Context, integrationID string) (types.SyncOutcome, error) {
	return d.syncer.Sync(ctx, integrationID)
}

func (d *Dispatcher) prune(ctx context.Context) {
	if d.snapshots != nil && d.snapshotRetention > 0 {
		cutoff := time.Now().Add(-d.snapshotRetention)
		if n, err := d.snapshots.DeleteOlderThan(ctx, cutoff); err != nil {
			d.log.WithError(err).Warn("Snapshot pruning failed")
		} else if n > 0 {
			d.log.WithField("deleted", n).Info("Pruned old snapshots")
		}
	}
	if d.prices != nil && d.priceRetention > 0 {
		cutoff := time.Now().Add(-d.priceRetention)
		if n, err := d.prices.DeleteOlderThan(ctx, cutoff); err != nil {
			d.log.WithError(err).Warn("Price history pruning failed")
		} else if n > 0 {
			d.log.WithField("deleted", n).Info("Pruned old price history")
		}
	}
}
