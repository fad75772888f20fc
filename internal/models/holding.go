package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// Holding represents a single-symbol balance owned by a user via one integration.
// The set of holdings for an integration is fully replaced on every sync; a row
// never outlives the sync that produced it.
type Holding struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"userId" db:"user_id"`
	IntegrationID  string           `json:"integrationId" db:"integration_id"`
	Symbol         string           `json:"symbol" db:"symbol"`
	Name           string           `json:"name" db:"name"`
	OriginalSymbol string           `json:"originalSymbol" db:"original_symbol"`
	AssetClass     types.AssetClass `json:"assetClass" db:"asset_class"`
	Amount         decimal.Decimal  `json:"amount" db:"amount"`
	NativePrice    decimal.Decimal  `json:"nativePrice" db:"native_price"`
	Change24h      float64          `json:"change24h" db:"change_24h"`
	USDValue       decimal.Decimal  `json:"usdValue" db:"usd_value"`
	IconURL        string           `json:"iconUrl,omitempty" db:"icon_url"`
	LastUpdated    time.Time        `json:"lastUpdated" db:"last_updated"`
}
