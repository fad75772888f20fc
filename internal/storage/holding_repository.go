package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/shopspring/decimal"
)

// HoldingRepository handles holdings (unified asset) storage operations
type HoldingRepository struct {
	pool *pgxpool.Pool
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(pool *pgxpool.Pool) *HoldingRepository {
	return &HoldingRepository{pool: pool}
}

// ReplaceForIntegration atomically swaps the integration's holdings for the
// given set. Delete and insert share one transaction so readers never observe
// an empty or mixed old/new state.
func (r *HoldingRepository) ReplaceForIntegration(ctx context.Context, integrationID string, holdings []*models.Holding) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM holdings WHERE integration_id = $1`, integrationID); err != nil {
		return fmt.Errorf("failed to delete stale holdings: %w", err)
	}

	query := `
		INSERT INTO holdings (
			id, user_id, integration_id, symbol, name, original_symbol,
			asset_class, amount, native_price, change_24h, usd_value, icon_url, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, h := range holdings {
		if _, err := tx.Exec(ctx, query,
			h.ID,
			h.UserID,
			h.IntegrationID,
			h.Symbol,
			h.Name,
			h.OriginalSymbol,
			h.AssetClass,
			h.Amount,
			h.NativePrice,
			h.Change24h,
			h.USDValue,
			h.IconURL,
			h.LastUpdated,
		); err != nil {
			return fmt.Errorf("failed to insert holding %s: %w", h.Symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit holdings replace: %w", err)
	}
	return nil
}

// ListByIntegration returns the current holdings of one integration
func (r *HoldingRepository) ListByIntegration(ctx context.Context, integrationID string) ([]*models.Holding, error) {
	return r.list(ctx, `WHERE integration_id = $1`, integrationID)
}

// ListByUser returns all holdings of a user across integrations
func (r *HoldingRepository) ListByUser(ctx context.Context, userID string) ([]*models.Holding, error) {
	return r.list(ctx, `WHERE user_id = $1`, userID)
}

func (r *HoldingRepository) list(ctx context.Context, where string, arg any) ([]*models.Holding, error) {
	query := `
		SELECT id, user_id, integration_id, symbol, name, original_symbol,
			asset_class, amount, native_price, change_24h, usd_value, icon_url, last_updated
		FROM holdings ` + where + ` ORDER BY usd_value DESC`

	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(
			&h.ID,
			&h.UserID,
			&h.IntegrationID,
			&h.Symbol,
			&h.Name,
			&h.OriginalSymbol,
			&h.AssetClass,
			&h.Amount,
			&h.NativePrice,
			&h.Change24h,
			&h.USDValue,
			&h.IconURL,
			&h.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, &h)
	}
	return holdings, rows.Err()
}

// CountDistinctIntegrationsByUser counts how many integrations currently have
// holdings for the user, for the snapshot completeness check
func (r *HoldingRepository) CountDistinctIntegrationsByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT integration_id) FROM holdings WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count synced integrations: %w", err)
	}
	return count, nil
}

// SumUSDValueByUser returns the user's net worth as the sum of holding USD
// values. The bool reports whether any holdings exist; a user with no rows
// has no aggregate rather than a zero one.
func (r *HoldingRepository) SumUSDValueByUser(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	var sum decimal.NullDecimal
	err := r.pool.QueryRow(ctx,
		`SELECT SUM(usd_value) FROM holdings WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to sum holdings: %w", err)
	}
	if !sum.Valid {
		return decimal.Zero, false, nil
	}
	return sum.Decimal, true, nil
}
