// Package adapter implements the provider adapters that fetch normalized
// balances from external brokerage/exchange accounts.
package adapter

import (
	"context"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// Balance is one normalized non-zero balance returned by a provider
type Balance struct {
	Symbol         string           `json:"symbol"`
	OriginalSymbol string           `json:"originalSymbol"`
	DisplayName    string           `json:"displayName"`
	AssetClass     types.AssetClass `json:"assetClass"`
	Amount         decimal.Decimal  `json:"amount"`
	NativePrice    decimal.Decimal  `json:"nativePrice"`
	Currency       string           `json:"currency"`
	IconURL        string           `json:"iconUrl"`
}

// ProviderAdapter is the capability interface one provider implementation
// fulfills. FetchBalances must return an error rather than partial silent
// success on upstream failure.
type ProviderAdapter interface {
	// ProviderID returns the provider this adapter serves
	ProviderID() types.ProviderID

	// FetchBalances returns all non-zero balances for the account
	FetchBalances(ctx context.Context, credentials map[string]string, settings map[string]string) ([]Balance, error)

	// ValidateCredentials checks that the credentials can reach the provider
	ValidateCredentials(ctx context.Context, credentials map[string]string, settings map[string]string) error
}

// Registry is the closed set of provider adapters, resolved once at startup
type Registry struct {
	adapters map[types.ProviderID]ProviderAdapter
}

// NewRegistry builds a registry from the given adapters
func NewRegistry(adapters ...ProviderAdapter) *Registry {
	m := make(map[types.ProviderID]ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.ProviderID()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider, or false when unsupported
func (r *Registry) Get(id types.ProviderID) (ProviderAdapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Providers lists the registered provider IDs
func (r *Registry) Providers() []types.ProviderID {
	out := make([]types.ProviderID, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	return out
}
