package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotMetadata captures the provenance of a portfolio snapshot
type SnapshotMetadata struct {
	AssetCount        int    `json:"assetCount"`
	IntegrationsCount int    `json:"integrationsCount"`
	TotalIntegrations int    `json:"totalIntegrations"`
	IsPartial         bool   `json:"isPartial"`
	Source            string `json:"source"`
}

// PortfolioSnapshot represents a point-in-time total valuation for a user.
// Within the dedup window at most one row exists per user; later syncs update
// it in place instead of inserting a duplicate.
type PortfolioSnapshot struct {
	ID            string           `json:"id" db:"id"`
	UserID        string           `json:"userId" db:"user_id"`
	Timestamp     time.Time        `json:"timestamp" db:"timestamp"`
	TotalValueUSD decimal.Decimal  `json:"totalValueUsd" db:"total_value_usd"`
	Metadata      SnapshotMetadata `json:"metadata" db:"metadata"`
}
