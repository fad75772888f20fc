package service

import (
	"context"
	"testing"
	"time"

	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memPriceHistory is an in-memory PriceHistoryRepository for tests
type memPriceHistory struct {
	points []*models.PricePoint
}

func (m *memPriceHistory) Insert(_ context.Context, point *models.PricePoint) error {
	m.points = append(m.points, point)
	return nil
}

func (m *memPriceHistory) LatestSince(_ context.Context, symbol string, providerID types.ProviderID, cutoff time.Time) (*models.PricePoint, error) {
	var best *models.PricePoint
	for _, p := range m.points {
		if p.Symbol != symbol || p.ProviderID != providerID || p.Timestamp.Before(cutoff) {
			continue
		}
		if best == nil || p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}
	return best, nil
}

func (m *memPriceHistory) LatestBefore(_ context.Context, symbol string, providerID types.ProviderID, cutoff time.Time) (*models.PricePoint, error) {
	var best *models.PricePoint
	for _, p := range m.points {
		if p.Symbol != symbol || p.ProviderID != providerID || p.Timestamp.After(cutoff) {
			continue
		}
		if best == nil || p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}
	return best, nil
}

func (m *memPriceHistory) Oldest(_ context.Context, symbol string, providerID types.ProviderID) (*models.PricePoint, error) {
	var best *models.PricePoint
	for _, p := range m.points {
		if p.Symbol != symbol || p.ProviderID != providerID {
			continue
		}
		if best == nil || p.Timestamp.Before(best.Timestamp) {
			best = p
		}
	}
	return best, nil
}

func newPriceService(history *memPriceHistory) *PriceService {
	return NewPriceService(history, 5*time.Minute, testLogger())
}

func TestRecordPriceThrottles(t *testing.T) {
	history := &memPriceHistory{}
	s := newPriceService(history)
	ctx := context.Background()

	price := decimal.NewFromInt(60000)
	require.NoError(t, s.RecordPrice(ctx, "BTC", types.ProviderBinance, price, "USD"))
	require.NoError(t, s.RecordPrice(ctx, "BTC", types.ProviderBinance, price, "USD"))
	assert.Len(t, history.points, 1, "second insert within the throttle window is skipped")

	// A different symbol is not throttled by BTC's point
	require.NoError(t, s.RecordPrice(ctx, "ETH", types.ProviderBinance, decimal.NewFromInt(3000), "USD"))
	assert.Len(t, history.points, 2)
}

func TestRecordPriceInsertsAfterThrottleWindow(t *testing.T) {
	history := &memPriceHistory{}
	s := newPriceService(history)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.RecordPrice(ctx, "BTC", types.ProviderBinance, decimal.NewFromInt(60000), "USD"))

	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	require.NoError(t, s.RecordPrice(ctx, "BTC", types.ProviderBinance, decimal.NewFromInt(61000), "USD"))
	assert.Len(t, history.points, 2)
}

func TestRecordPriceSkipsNonPositive(t *testing.T) {
	history := &memPriceHistory{}
	s := newPriceService(history)

	require.NoError(t, s.RecordPrice(context.Background(), "BTC", types.ProviderBinance, decimal.Zero, "USD"))
	require.NoError(t, s.RecordPrice(context.Background(), "BTC", types.ProviderBinance, decimal.NewFromInt(-1), "USD"))
	assert.Empty(t, history.points)
}

func TestCalculate24hChange(t *testing.T) {
	now := time.Now()
	history := &memPriceHistory{points: []*models.PricePoint{
		{Symbol: "BTC", ProviderID: types.ProviderBinance, Price: decimal.NewFromInt(50000), Timestamp: now.Add(-30 * time.Hour)},
		{Symbol: "BTC", ProviderID: types.ProviderBinance, Price: decimal.NewFromInt(55000), Timestamp: now.Add(-25 * time.Hour)},
		{Symbol: "BTC", ProviderID: types.ProviderBinance, Price: decimal.NewFromInt(58000), Timestamp: now.Add(-1 * time.Hour)},
	}}
	s := newPriceService(history)
	s.now = func() time.Time { return now }

	change, err := s.Calculate24hChange(context.Background(), "BTC", types.ProviderBinance, decimal.NewFromInt(60500))
	require.NoError(t, err)
	// Anchored on the newest point at least 24h old (55000), not the 1h one
	assert.InDelta(t, 10.0, change, 1e-9)
}

func TestCalculate24hChangeFallsBackToOldestPoint(t *testing.T) {
	now := time.Now()
	history := &memPriceHistory{points: []*models.PricePoint{
		{Symbol: "BTC", ProviderID: types.ProviderBinance, Price: decimal.NewFromInt(50000), Timestamp: now.Add(-2 * time.Hour)},
		{Symbol: "BTC", ProviderID: types.ProviderBinance, Price: decimal.NewFromInt(58000), Timestamp: now.Add(-1 * time.Hour)},
	}}
	s := newPriceService(history)
	s.now = func() time.Time { return now }

	change, err := s.Calculate24hChange(context.Background(), "BTC", types.ProviderBinance, decimal.NewFromInt(55000))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, change, 1e-9, "short history anchors on the oldest point")
}

func TestCalculate24hChangeWithoutHistory(t *testing.T) {
	s := newPriceService(&memPriceHistory{})

	change, err := s.Calculate24hChange(context.Background(), "BTC", types.ProviderBinance, decimal.NewFromInt(60000))
	require.NoError(t, err)
	assert.Zero(t, change)
}

func TestCalculate24hChangeSkipsNonPositiveCurrent(t *testing.T) {
	history := &memPriceHistory{points: []*models.PricePoint{
		{Symbol: "BTC", ProviderID: types.ProviderBinance, Price: decimal.NewFromInt(50000), Timestamp: time.Now().Add(-30 * time.Hour)},
	}}
	s := newPriceService(history)

	change, err := s.Calculate24hChange(context.Background(), "BTC", types.ProviderBinance, decimal.Zero)
	require.NoError(t, err)
	assert.Zero(t, change)
}
