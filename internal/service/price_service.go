package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// PriceHistoryRepository is the price history persistence the service needs
type PriceHistoryRepository interface {
	Insert(ctx context.Context, point *models.PricePoint) error
	LatestSince(ctx context.Context, symbol string, providerID types.ProviderID, cutoff time.Time) (*models.PricePoint, error)
	LatestBefore(ctx context.Context, symbol string, providerID types.ProviderID, cutoff time.Time) (*models.PricePoint, error)
	Oldest(ctx context.Context, symbol string, providerID types.ProviderID) (*models.PricePoint, error)
}

// PriceService records asset prices during sync and derives 24h performance
// from the recorded history
type PriceService struct {
	history  PriceHistoryRepository
	throttle time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// NewPriceService creates a price service. throttle bounds history growth:
// at most one point per (symbol, provider) within the throttle window.
func NewPriceService(history PriceHistoryRepository, throttle time.Duration, log *logging.Logger) *PriceService {
	if throttle <= 0 {
		throttle = 5 * time.Minute
	}
	return &PriceService{
		history:  history,
		throttle: throttle,
		log:      log,
		now:      time.Now,
	}
}

// RecordPrice stores the current price of an asset. The insert is skipped
// when a point for the same pair exists within the throttle window.
func (s *PriceService) RecordPrice(ctx context.Context, symbol string, providerID types.ProviderID, price decimal.Decimal, currency string) error {
	if price.Sign() <= 0 {
		return nil
	}

	recent, err := s.history.LatestSince(ctx, symbol, providerID, s.now().Add(-s.throttle))
	if err != nil {
		return err
	}
	if recent != nil {
		return nil
	}

	return s.history.Insert(ctx, &models.PricePoint{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		ProviderID: providerID,
		Price:      price,
		Currency:   currency,
		Timestamp:  s.now(),
	})
}

// Calculate24hChange returns the percent price change against the newest
// point at least 24h old, falling back to the oldest available point when the
// history is shorter, and to zero when there is no history at all.
func (s *PriceService) Calculate24hChange(ctx context.Context, symbol string, providerID types.ProviderID, current decimal.Decimal) (float64, error) {
	if current.Sign() <= 0 {
		return 0, nil
	}

	anchor, err := s.history.LatestBefore(ctx, symbol, providerID, s.now().Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	if anchor == nil {
		anchor, err = s.history.Oldest(ctx, symbol, providerID)
		if err != nil {
			return 0, err
		}
	}
	if anchor == nil || anchor.Price.Sign() == 0 {
		return 0, nil
	}

	change := current.Sub(anchor.Price).Div(anchor.Price).Mul(decimal.NewFromInt(100))
	result, _ := change.Float64()
	return result, nil
}
