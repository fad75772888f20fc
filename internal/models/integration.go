package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
)

// Integration represents a user's configured connection to one external provider.
// Credentials hold the encrypted blob; the sync core never mutates it.
type Integration struct {
	ID          string            `json:"id" db:"id"`
	UserID      string            `json:"userId" db:"user_id"`
	ProviderID  types.ProviderID  `json:"providerId" db:"provider_id"`
	Name        string            `json:"name" db:"name"`
	Credentials string            `json:"-" db:"credentials"`
	Settings    map[string]string `json:"settings,omitempty" db:"settings"`
	IsActive    bool              `json:"isActive" db:"is_active"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
}
