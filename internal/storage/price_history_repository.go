package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// PriceHistoryRepository handles market price history storage operations
type PriceHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryRepository creates a new price history repository
func NewPriceHistoryRepository(pool *pgxpool.Pool) *PriceHistoryRepository {
	return &PriceHistoryRepository{pool: pool}
}

// Insert stores a new price point
func (r *PriceHistoryRepository) Insert(ctx context.Context, point *models.PricePoint) error {
	query := `
		INSERT INTO market_price_history (id, symbol, provider_id, price, currency, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		point.ID,
		point.Symbol,
		point.ProviderID,
		point.Price,
		point.Currency,
		point.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert price point: %w", err)
	}
	return nil
}

func (r *PriceHistoryRepository) queryOne(ctx context.Context, query string, args ...any) (*models.PricePoint, error) {
	var point models.PricePoint
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&point.ID,
		&point.Symbol,
		&point.ProviderID,
		&point.Price,
		&point.Currency,
		&point.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query price point: %w", err)
	}
	return &point, nil
}

// LatestSince returns the newest point at or after cutoff, or nil. Used by
// the insert throttle.
func (r *PriceHistoryRepository) LatestSince(ctx context.Context, symbol string, providerID types.ProviderID, cutoff time.Time) (*models.PricePoint, error) {
	return r.queryOne(ctx, `
		SELECT id, symbol, provider_id, price, currency, timestamp
		FROM market_price_history
		WHERE symbol = $1 AND provider_id = $2 AND timestamp >= $3
		ORDER BY timestamp DESC
		LIMIT 1
	`, symbol, providerID, cutoff)
}

// LatestBefore returns the newest point at or before cutoff, or nil. This is
// the 24h-change anchor point.
func (r *PriceHistoryRepository) LatestBefore(ctx context.Context, symbol string, providerID types.ProviderID, cutoff time.Time) (*models.PricePoint, error) {
	return r.queryOne(ctx, `
		SELECT id, symbol, provider_id, price, currency, timestamp
		FROM market_price_history
		WHERE symbol = $1 AND provider_id = $2 AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT 1
	`, symbol, providerID, cutoff)
}

// Oldest returns the oldest recorded point for the pair, or nil
func (r *PriceHistoryRepository) Oldest(ctx context.Context, symbol string, providerID types.ProviderID) (*models.PricePoint, error) {
	return r.queryOne(ctx, `
		SELECT id, symbol, provider_id, price, currency, timestamp
		FROM market_price_history
		WHERE symbol = $1 AND provider_id = $2
		ORDER BY timestamp ASC
		LIMIT 1
	`, symbol, providerID)
}

// DeleteOlderThan prunes price points past the retention cutoff
func (r *PriceHistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM market_price_history WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune price history: %w", err)
	}
	return tag.RowsAffected(), nil
}
