// Package types defines shared value types used across the portfolio aggregator.
package types

// ProviderID identifies a supported external brokerage/exchange provider
type ProviderID string

const (
	ProviderBinance    ProviderID = "binance"
	ProviderTrading212 ProviderID = "trading212"
	ProviderEthereum   ProviderID = "ethereum"
)

// SupportedProviders lists all providers the sync core can dispatch to
var SupportedProviders = []ProviderID{
	ProviderBinance,
	ProviderTrading212,
	ProviderEthereum,
}

// IsValid checks if the provider ID is a known provider
func (p ProviderID) IsValid() bool {
	switch p {
	case ProviderBinance, ProviderTrading212, ProviderEthereum:
		return true
	}
	return false
}

// String returns the string representation of the provider ID
func (p ProviderID) String() string {
	return string(p)
}

// AssetClass categorizes a holding by the kind of asset it represents
type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetStock  AssetClass = "stock"
	AssetFiat   AssetClass = "fiat"
)

// String returns the string representation of the asset class
func (a AssetClass) String() string {
	return string(a)
}

// SyncOutcome describes how a sync invocation terminated
type SyncOutcome string

const (
	// SyncCompleted means holdings were replaced and a snapshot was attempted
	SyncCompleted SyncOutcome = "completed"
	// SyncSkipped means the sync was a deliberate no-op (missing integration,
	// unsupported provider, or another worker already held the sync lock)
	SyncSkipped SyncOutcome = "skipped"
	// SyncFailed means the sync aborted with no holdings mutated
	SyncFailed SyncOutcome = "failed"
)
