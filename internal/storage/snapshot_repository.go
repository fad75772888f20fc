package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-aggregator/internal/models"
)

// SnapshotRepository handles portfolio snapshot storage operations
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Create stores a new portfolio snapshot
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *models.PortfolioSnapshot) error {
	metadataJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}

	query := `
		INSERT INTO portfolio_snapshots (id, user_id, timestamp, total_value_usd, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		snapshot.ID,
		snapshot.UserID,
		snapshot.Timestamp,
		snapshot.TotalValueUSD,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Update rewrites an existing snapshot in place (dedup window absorption)
func (r *SnapshotRepository) Update(ctx context.Context, snapshot *models.PortfolioSnapshot) error {
	metadataJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}

	query := `
		UPDATE portfolio_snapshots
		SET timestamp = $2, total_value_usd = $3, metadata = $4
		WHERE id = $1
	`
	_, err = r.pool.Exec(ctx, query,
		snapshot.ID,
		snapshot.Timestamp,
		snapshot.TotalValueUSD,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	return nil
}

// FindSince returns the user's most recent snapshot with timestamp at or
// after cutoff, or nil when none exists
func (r *SnapshotRepository) FindSince(ctx context.Context, userID string, cutoff time.Time) (*models.PortfolioSnapshot, error) {
	query := `
		SELECT id, user_id, timestamp, total_value_usd, metadata
		FROM portfolio_snapshots
		WHERE user_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var snapshot models.PortfolioSnapshot
	var metadataJSON []byte
	err := r.pool.QueryRow(ctx, query, userID, cutoff).Scan(
		&snapshot.ID,
		&snapshot.UserID,
		&snapshot.Timestamp,
		&snapshot.TotalValueUSD,
		&metadataJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &snapshot.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot metadata: %w", err)
		}
	}
	return &snapshot, nil
}

// ListByUser returns snapshots for a user within a time range, chronological
func (r *SnapshotRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*models.PortfolioSnapshot, error) {
	query := `
		SELECT id, user_id, timestamp, total_value_usd, metadata
		FROM portfolio_snapshots
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PortfolioSnapshot
	for rows.Next() {
		var snapshot models.PortfolioSnapshot
		var metadataJSON []byte
		if err := rows.Scan(
			&snapshot.ID,
			&snapshot.UserID,
			&snapshot.Timestamp,
			&snapshot.TotalValueUSD,
			&metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &snapshot.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot metadata: %w", err)
			}
		}
		snapshots = append(snapshots, &snapshot)
	}
	return snapshots, rows.Err()
}

// DeleteOlderThan prunes snapshots past the retention cutoff
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM portfolio_snapshots WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
