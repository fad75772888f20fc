package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// PricePoint is one recorded market price for a (symbol, provider) pair.
// Inserts are throttled by the price service to bound history growth.
type PricePoint struct {
	ID         string           `json:"id" db:"id"`
	Symbol     string           `json:"symbol" db:"symbol"`
	ProviderID types.ProviderID `json:"providerId" db:"provider_id"`
	Price      decimal.Decimal  `json:"price" db:"price"`
	Currency   string           `json:"currency" db:"currency"`
	Timestamp  time.Time        `json:"timestamp" db:"timestamp"`
}
