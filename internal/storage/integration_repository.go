package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-aggregator/internal/models"
)

// IntegrationRepository handles integration storage operations
type IntegrationRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(pool *pgxpool.Pool) *IntegrationRepository {
	return &IntegrationRepository{pool: pool}
}

// Create stores a new integration
func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	settingsJSON, err := json.Marshal(integration.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO integrations (id, user_id, provider_id, name, credentials, settings, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		integration.ID,
		integration.UserID,
		integration.ProviderID,
		integration.Name,
		integration.Credentials,
		settingsJSON,
		integration.IsActive,
		integration.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert integration: %w", err)
	}
	return nil
}

// GetByID retrieves an integration by ID. Returns (nil, nil) when absent.
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	query := `
		SELECT id, user_id, provider_id, name, credentials, settings, is_active, created_at
		FROM integrations
		WHERE id = $1
	`

	var integration models.Integration
	var settingsJSON []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&integration.ID,
		&integration.UserID,
		&integration.ProviderID,
		&integration.Name,
		&integration.Credentials,
		&settingsJSON,
		&integration.IsActive,
		&integration.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query integration: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &integration.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return &integration, nil
}

// ListActiveIDs returns the IDs of all active integrations, used by the
// dispatcher for periodic fan-out
func (r *IntegrationRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM integrations WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active integrations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan integration id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountActiveByUser counts a user's active integrations
func (r *IntegrationRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM integrations WHERE user_id = $1 AND is_active`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active integrations: %w", err)
	}
	return count, nil
}

// SetActive toggles an integration's active flag
func (r *IntegrationRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE integrations SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	return nil
}

// Delete removes an integration; its holdings are removed by the FK cascade
func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	return nil
}
