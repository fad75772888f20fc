package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/lock"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/security"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a scriptable ProviderAdapter for orchestrator tests
type fakeAdapter struct {
	id       types.ProviderID
	balances []adapter.Balance
	err      error
	gotCreds map[string]string
}

func (f *fakeAdapter) ProviderID() types.ProviderID { return f.id }

func (f *fakeAdapter) FetchBalances(_ context.Context, credentials, _ map[string]string) ([]adapter.Balance, error) {
	f.gotCreds = credentials
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

func (f *fakeAdapter) ValidateCredentials(context.Context, map[string]string, map[string]string) error {
	return f.err
}

// memIntegrationRepo is an in-memory integration store for tests
type memIntegrationRepo struct {
	integrations map[string]*models.Integration
}

func (m *memIntegrationRepo) GetByID(_ context.Context, id string) (*models.Integration, error) {
	return m.integrations[id], nil
}

func (m *memIntegrationRepo) CountActiveByUser(_ context.Context, userID string) (int, error) {
	count := 0
	for _, integration := range m.integrations {
		if integration.UserID == userID && integration.IsActive {
			count++
		}
	}
	return count, nil
}

// memHoldingStore is an in-memory holding store implementing both the
// replacer and the aggregator sides
type memHoldingStore struct {
	byIntegration map[string][]*models.Holding
	replaceErr    error
}

func newMemHoldingStore() *memHoldingStore {
	return &memHoldingStore{byIntegration: make(map[string][]*models.Holding)}
}

func (m *memHoldingStore) ReplaceForIntegration(_ context.Context, integrationID string, holdings []*models.Holding) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.byIntegration[integrationID] = holdings
	return nil
}

func (m *memHoldingStore) CountDistinctIntegrationsByUser(_ context.Context, userID string) (int, error) {
	count := 0
	for _, holdings := range m.byIntegration {
		for _, h := range holdings {
			if h.UserID == userID {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *memHoldingStore) SumUSDValueByUser(_ context.Context, userID string) (decimal.Decimal, bool, error) {
	sum := decimal.Zero
	found := false
	for _, holdings := range m.byIntegration {
		for _, h := range holdings {
			if h.UserID == userID {
				sum = sum.Add(h.USDValue)
				found = true
			}
		}
	}
	return sum, found, nil
}

// fixedRates is a RateSource with a static rate table to USD
type fixedRates map[string]float64

func (r fixedRates) GetRate(_ context.Context, from, to string) float64 {
	if from == to {
		return 1.0
	}
	if rate, ok := r[from]; ok {
		return rate
	}
	return 1.0
}

type syncFixture struct {
	service      *SyncService
	adapter      *fakeAdapter
	integrations *memIntegrationRepo
	holdings     *memHoldingStore
	snapshots    *memSnapshotRepo
	history      *memPriceHistory
	encryptor    *security.Encryptor
	client       *redis.Client
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	encryptor, err := security.NewEncryptor(key)
	require.NoError(t, err)

	fake := &fakeAdapter{id: types.ProviderBinance}
	integrations := &memIntegrationRepo{integrations: make(map[string]*models.Integration)}
	holdings := newMemHoldingStore()
	snapshots := &memSnapshotRepo{}
	history := &memPriceHistory{}
	locks := lock.NewManager(client, 30*time.Second, 30*time.Second)
	log := testLogger()

	snapshotService := NewSnapshotService(
		snapshots, holdings, integrations, locks,
		&config.SnapshotConfig{
			LockTTL:     30 * time.Second,
			LockWait:    500 * time.Millisecond,
			DedupWindow: 45 * time.Second,
		},
		20*time.Millisecond,
		log,
	)

	service := NewSyncService(
		integrations, holdings,
		NewPriceService(history, 5*time.Minute, log),
		fixedRates{"EUR": 1.25},
		snapshotService, locks, encryptor,
		adapter.NewRegistry(fake),
		NewSyncTracker(client),
		&config.SyncConfig{
			LockTTL:      30 * time.Second,
			WaitMax:      200 * time.Millisecond,
			BaseCurrency: "USD",
			FetchTimeout: 2 * time.Second,
		},
		20*time.Millisecond,
		log,
	)

	return &syncFixture{
		service:      service,
		adapter:      fake,
		integrations: integrations,
		holdings:     holdings,
		snapshots:    snapshots,
		history:      history,
		encryptor:    encryptor,
		client:       client,
	}
}

func (f *syncFixture) addIntegration(t *testing.T, id, userID string, provider types.ProviderID, credentials string) {
	t.Helper()
	encrypted, err := f.encryptor.Encrypt(credentials)
	require.NoError(t, err)
	f.integrations.integrations[id] = &models.Integration{
		ID:          id,
		UserID:      userID,
		ProviderID:  provider,
		Name:        "test " + string(provider),
		Credentials: encrypted,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
}

func TestSyncHappyPath(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k","api_secret":"s"}`)
	f.adapter.balances = []adapter.Balance{{
		Symbol:      "BTC",
		AssetClass:  types.AssetCrypto,
		Amount:      decimal.NewFromFloat(0.5),
		NativePrice: decimal.NewFromInt(60000),
		Currency:    "USD",
	}}

	outcome, err := f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, types.SyncCompleted, outcome)

	// Credentials were decrypted and handed to the adapter
	assert.Equal(t, "k", f.adapter.gotCreds["api_key"])

	stored := f.holdings.byIntegration["int-1"]
	require.Len(t, stored, 1)
	h := stored[0]
	assert.Equal(t, "user-1", h.UserID)
	assert.Equal(t, "BTC", h.Symbol)
	assert.Equal(t, "BTC", h.Name, "display name defaults to the symbol")
	assert.True(t, h.USDValue.Equal(decimal.NewFromInt(30000)), "got %s", h.USDValue)
	assert.NotEmpty(t, h.IconURL)

	// A price point was recorded for the synced asset
	require.Len(t, f.history.points, 1)
	assert.True(t, f.history.points[0].Price.Equal(decimal.NewFromInt(60000)))

	// The complete sync produced a snapshot with the full net worth
	require.Len(t, f.snapshots.snapshots, 1)
	assert.True(t, f.snapshots.snapshots[0].TotalValueUSD.Equal(decimal.NewFromInt(30000)))
}

func TestSyncConvertsToBaseCurrency(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	f.adapter.balances = []adapter.Balance{{
		Symbol:      "SAP",
		AssetClass:  types.AssetStock,
		Amount:      decimal.NewFromInt(10),
		NativePrice: decimal.NewFromInt(100),
		Currency:    "EUR",
	}}

	_, err := f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)

	h := f.holdings.byIntegration["int-1"][0]
	assert.True(t, h.NativePrice.Equal(decimal.NewFromInt(125)), "price converted at the EUR rate, got %s", h.NativePrice)
	assert.True(t, h.USDValue.Equal(decimal.NewFromInt(1250)), "got %s", h.USDValue)
}

func TestSyncReplacesPreviousHoldings(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)

	f.adapter.balances = []adapter.Balance{
		{Symbol: "BTC", AssetClass: types.AssetCrypto, Amount: decimal.NewFromInt(1), NativePrice: decimal.NewFromInt(60000), Currency: "USD"},
		{Symbol: "ETH", AssetClass: types.AssetCrypto, Amount: decimal.NewFromInt(2), NativePrice: decimal.NewFromInt(3000), Currency: "USD"},
	}
	_, err := f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)
	require.Len(t, f.holdings.byIntegration["int-1"], 2)

	// The asset sold between syncs disappears rather than lingering
	f.adapter.balances = f.adapter.balances[:1]
	_, err = f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)

	stored := f.holdings.byIntegration["int-1"]
	require.Len(t, stored, 1)
	assert.Equal(t, "BTC", stored[0].Symbol)

	// Both syncs landed inside the dedup window, so one snapshot row exists
	assert.Len(t, f.snapshots.snapshots, 1)
}

func TestSyncFetchFailureLeavesHoldingsUntouched(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)

	f.adapter.balances = []adapter.Balance{
		{Symbol: "BTC", AssetClass: types.AssetCrypto, Amount: decimal.NewFromInt(1), NativePrice: decimal.NewFromInt(60000), Currency: "USD"},
	}
	_, err := f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)
	require.Len(t, f.snapshots.snapshots, 1)

	f.adapter.err = fmt.Errorf("upstream 502")
	outcome, err := f.service.Sync(context.Background(), "int-1")
	assert.Equal(t, types.SyncFailed, outcome)
	assert.Equal(t, errors.CategoryAdapter, errors.CategoryOf(err))
	assert.True(t, errors.IsSyncFailure(err))

	// The previous holdings survive the failed attempt
	require.Len(t, f.holdings.byIntegration["int-1"], 1)
	assert.Len(t, f.snapshots.snapshots, 1, "no snapshot for a failed sync")
}

func TestSyncIntegrationNotFound(t *testing.T) {
	f := newSyncFixture(t)

	outcome, err := f.service.Sync(context.Background(), "missing")
	assert.Equal(t, types.SyncSkipped, outcome)
	assert.Equal(t, errors.CategoryNotFound, errors.CategoryOf(err))
	assert.False(t, errors.IsSyncFailure(err))
}

func TestSyncUnsupportedProvider(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderEthereum, `{"address":"0x0"}`)

	outcome, err := f.service.Sync(context.Background(), "int-1")
	assert.Equal(t, types.SyncSkipped, outcome)
	assert.Equal(t, errors.CategoryUnsupportedProvider, errors.CategoryOf(err))
	assert.False(t, errors.IsSyncFailure(err))
}

func TestSyncCredentialFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	f.integrations.integrations["int-1"].Credentials = "bm90LWEtcmVhbC1jaXBoZXJ0ZXh0LWJsb2I="

	outcome, err := f.service.Sync(context.Background(), "int-1")
	assert.Equal(t, types.SyncFailed, outcome)
	assert.Equal(t, errors.CategoryCredential, errors.CategoryOf(err))
	assert.True(t, errors.IsSyncFailure(err))
	assert.Empty(t, f.holdings.byIntegration["int-1"])
}

func TestSyncSkipsWhenLockHeldElsewhere(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	ctx := context.Background()

	holder := lock.New(f.client, "sync:user-1:int-1", 30*time.Second)
	acquired, err := holder.Acquire(ctx, time.Second, 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _, _ = holder.Release(ctx) }()

	outcome, err := f.service.Sync(ctx, "int-1")
	assert.Equal(t, types.SyncSkipped, outcome)
	assert.Equal(t, errors.CategoryLock, errors.CategoryOf(err))
	assert.False(t, errors.IsSyncFailure(err))
	assert.Empty(t, f.holdings.byIntegration["int-1"])
}

func TestSyncReleasesLock(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	ctx := context.Background()

	_, err := f.service.Sync(ctx, "int-1")
	require.NoError(t, err)

	l := lock.New(f.client, "sync:user-1:int-1", time.Second)
	acquired, err := l.Acquire(ctx, 100*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSyncPersistenceFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	f.adapter.balances = []adapter.Balance{
		{Symbol: "BTC", AssetClass: types.AssetCrypto, Amount: decimal.NewFromInt(1), NativePrice: decimal.NewFromInt(60000), Currency: "USD"},
	}
	f.holdings.replaceErr = fmt.Errorf("connection reset")

	outcome, err := f.service.Sync(context.Background(), "int-1")
	assert.Equal(t, types.SyncFailed, outcome)
	assert.Equal(t, errors.CategoryPersistence, errors.CategoryOf(err))
	assert.Empty(t, f.snapshots.snapshots)
}

func TestSyncSkipsSnapshotWhilePortfolioPartial(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	f.addIntegration(t, "int-2", "user-1", types.ProviderBinance, `{"api_key":"k2"}`)
	f.adapter.balances = []adapter.Balance{
		{Symbol: "BTC", AssetClass: types.AssetCrypto, Amount: decimal.NewFromInt(1), NativePrice: decimal.NewFromInt(60000), Currency: "USD"},
	}

	outcome, err := f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, types.SyncCompleted, outcome)
	assert.Empty(t, f.snapshots.snapshots, "one of two integrations synced is not snapshot-worthy")

	// The second integration completes the portfolio and the snapshot lands
	outcome, err = f.service.Sync(context.Background(), "int-2")
	require.NoError(t, err)
	assert.Equal(t, types.SyncCompleted, outcome)
	require.Len(t, f.snapshots.snapshots, 1)
	assert.True(t, f.snapshots.snapshots[0].TotalValueUSD.Equal(decimal.NewFromInt(120000)))
}

func TestSyncRecordsLastSyncTime(t *testing.T) {
	f := newSyncFixture(t)
	f.addIntegration(t, "int-1", "user-1", types.ProviderBinance, `{"api_key":"k"}`)
	tracker := NewSyncTracker(f.client)

	_, found, err := tracker.LastSyncTime(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, found)

	_, err = f.service.Sync(context.Background(), "int-1")
	require.NoError(t, err)

	_, found, err = tracker.LastSyncTime(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, found)

	active, err := tracker.ActiveSync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, active, "the active-sync marker is cleared after the sync")
}
