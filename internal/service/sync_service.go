package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/lock"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/security"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// IntegrationRepository is the integration persistence the orchestrator needs
type IntegrationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Integration, error)
}

// HoldingReplacer atomically swaps the holdings of one integration
type HoldingReplacer interface {
	ReplaceForIntegration(ctx context.Context, integrationID string, holdings []*models.Holding) error
}

// RateSource converts between currencies
type RateSource interface {
	GetRate(ctx context.Context, from, to string) float64
}

// Snapshotter records a portfolio snapshot after a completed sync
type Snapshotter interface {
	CreateOrUpdateSnapshot(ctx context.Context, userID string, holdingsCount int) (*models.PortfolioSnapshot, error)
}

// SyncService orchestrates one integration sync end to end: load and decrypt
// the integration, serialize against concurrent syncs of the same integration
// with a distributed lock, fetch balances from the provider, transform them
// into holdings, replace the stored holdings atomically, then attempt a
// portfolio snapshot.
type SyncService struct {
	integrations IntegrationRepository
	holdings     HoldingReplacer
	prices       *PriceService
	currency     RateSource
	snapshots    Snapshotter
	locks        *lock.Manager
	encryptor    *security.Encryptor
	adapters     *adapter.Registry
	tracker      *SyncTracker

	lockWait      time.Duration
	retryInterval time.Duration
	baseCurrency  string
	fetchTimeout  time.Duration

	log *logging.Logger
	now func() time.Time
}

// NewSyncService creates a sync orchestrator. tracker may be nil when per-user
// sync bookkeeping is not wanted.
func NewSyncService(
	integrations IntegrationRepository,
	holdings HoldingReplacer,
	prices *PriceService,
	currency RateSource,
	snapshots Snapshotter,
	locks *lock.Manager,
	encryptor *security.Encryptor,
	adapters *adapter.Registry,
	tracker *SyncTracker,
	cfg *config.SyncConfig,
	retryInterval time.Duration,
	log *logging.Logger,
) *SyncService {
	return &SyncService{
		integrations:  integrations,
		holdings:      holdings,
		prices:        prices,
		currency:      currency,
		snapshots:     snapshots,
		locks:         locks,
		encryptor:     encryptor,
		adapters:      adapters,
		tracker:       tracker,
		lockWait:      cfg.WaitMax,
		retryInterval: retryInterval,
		baseCurrency:  cfg.BaseCurrency,
		fetchTimeout:  cfg.FetchTimeout,
		log:           log,
		now:           time.Now,
	}
}

// Sync synchronizes one integration. The returned outcome distinguishes a
// completed sync from an expected no-op (missing integration, unsupported
// provider, lock contention). A skipped sync still returns its categorized
// error so callers can log the reason; errors.IsSyncFailure separates real
// failures from no-ops.
func (s *SyncService) Sync(ctx context.Context, integrationID string) (types.SyncOutcome, error) {
	log := s.log.WithField("integrationId", integrationID)

	integration, err := s.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return types.SyncFailed, errors.NewPersistenceError("load integration", err)
	}
	if integration == nil {
		log.Warn("Integration not found, skipping sync")
		return types.SyncSkipped, errors.NewIntegrationNotFoundError(integrationID)
	}
	log = log.WithFields(map[string]interface{}{
		"userId":   integration.UserID,
		"provider": string(integration.ProviderID),
	})

	providerAdapter, ok := s.adapters.Get(integration.ProviderID)
	if !ok {
		log.Warn("No adapter for provider, skipping sync")
		return types.SyncSkipped, errors.NewUnsupportedProviderError(string(integration.ProviderID))
	}

	credentials, err := s.decryptCredentials(integration)
	if err != nil {
		return types.SyncFailed, err
	}

	l := s.locks.SyncLock(integration.UserID, integration.ID)
	acquired, err := l.Acquire(ctx, s.lockWait, s.retryInterval)
	if err != nil {
		return types.SyncFailed, errors.NewPersistenceError("acquire sync lock", err)
	}
	if !acquired {
		// Another worker is already syncing this integration. Its result
		// supersedes anything this attempt would produce.
		log.Info("Sync lock held elsewhere, skipping sync")
		return types.SyncSkipped, errors.NewLockTimeoutError(l.Key())
	}
	defer func() {
		_, _ = l.Release(context.WithoutCancel(ctx))
	}()

	if s.tracker != nil {
		if err := s.tracker.SetActiveSync(ctx, integration.UserID, integration.ID); err != nil {
			log.WithError(err).Warn("Failed to mark sync active")
		}
		defer func() {
			_ = s.tracker.ClearActiveSync(context.WithoutCancel(ctx), integration.UserID)
		}()
	}

	start := s.now()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	balances, err := providerAdapter.FetchBalances(fetchCtx, credentials, integration.Settings)
	cancel()
	if err != nil {
		log.WithError(err).Error("Balance fetch failed")
		return types.SyncFailed, errors.NewAdapterFetchError(string(integration.ProviderID), err)
	}

	holdings, err := s.transform(ctx, integration, balances)
	if err != nil {
		return types.SyncFailed, err
	}

	if err := s.holdings.ReplaceForIntegration(ctx, integration.ID, holdings); err != nil {
		log.WithError(err).Error("Holdings replace failed")
		return types.SyncFailed, errors.NewPersistenceError("replace holdings", err)
	}

	if s.tracker != nil {
		if err := s.tracker.MarkSynced(ctx, integration.UserID); err != nil {
			log.WithError(err).Warn("Failed to record last sync time")
		}
	}

	// Snapshot problems never undo a completed sync; the holdings are
	// already persisted and the next sync gets another snapshot attempt.
	if _, err := s.snapshots.CreateOrUpdateSnapshot(ctx, integration.UserID, len(holdings)); err != nil {
		if errors.IsTerminalNoOp(err) {
			log.WithError(err).Debug("Snapshot skipped")
		} else {
			log.WithError(err).Warn("Snapshot attempt failed after sync")
		}
	}

	log.WithFields(map[string]interface{}{
		"holdings": len(holdings),
		"duration": s.now().Sub(start).String(),
	}).Info("Sync completed")
	return types.SyncCompleted, nil
}

func (s *SyncService) decryptCredentials(integration *models.Integration) (map[string]string, error) {
	plaintext, err := s.encryptor.Decrypt(integration.Credentials)
	if err != nil {
		return nil, errors.NewCredentialError(integration.ID, err)
	}

	credentials := make(map[string]string)
	if plaintext != "" {
		if err := json.Unmarshal([]byte(plaintext), &credentials); err != nil {
			return nil, errors.NewCredentialError(integration.ID, err)
		}
	}
	return credentials, nil
}

// transform converts provider balances into holdings priced in the base
// currency, recording price history and 24h change along the way.
func (s *SyncService) transform(ctx context.Context, integration *models.Integration, balances []adapter.Balance) ([]*models.Holding, error) {
	now := s.now().UTC()
	holdings := make([]*models.Holding, 0, len(balances))

	for _, b := range balances {
		rate := s.currency.GetRate(ctx, b.Currency, s.baseCurrency)
		basePrice := b.NativePrice.Mul(decimal.NewFromFloat(rate))
		usdValue := b.Amount.Mul(basePrice)

		change, err := s.prices.Calculate24hChange(ctx, b.Symbol, integration.ProviderID, basePrice)
		if err != nil {
			return nil, errors.NewPersistenceError("read price history", err)
		}
		if err := s.prices.RecordPrice(ctx, b.Symbol, integration.ProviderID, basePrice, s.baseCurrency); err != nil {
			return nil, errors.NewPersistenceError("record price", err)
		}

		name := b.DisplayName
		if name == "" {
			name = b.Symbol
		}
		iconURL := b.IconURL
		if iconURL == "" {
			iconURL = adapter.ResolveIcon(b.AssetClass, b.Symbol)
		}

		holdings = append(holdings, &models.Holding{
			ID:             uuid.NewString(),
			UserID:         integration.UserID,
			IntegrationID:  integration.ID,
			Symbol:         b.Symbol,
			Name:           name,
			OriginalSymbol: b.OriginalSymbol,
			AssetClass:     b.AssetClass,
			Amount:         b.Amount,
			NativePrice:    basePrice,
			Change24h:      change,
			USDValue:       usdValue,
			IconURL:        iconURL,
			LastUpdated:    now,
		})
	}

	return holdings, nil
}
