package adapter

import "strings"

// DeduplicateBalances consolidates per-source balance reports into a final
// symbol -> amount map.
//
// Binance reports the same assets across multiple endpoints (Spot, Simple
// Earn, Funding), and flexible-earn positions double-count with LD-prefixed
// spot assets. Sources are grouped into buckets: overlapping buckets take the
// maximum reported value, distinct liquid sources are additive.
func DeduplicateBalances(detailed map[string]map[string]float64) map[string]float64 {
	final := make(map[string]float64)

	for symbol, sources := range detailed {
		// Bucket 1: flexible positions (overlap with LD spot assets)
		var flexTotal float64
		for k, v := range sources {
			lower := strings.ToLower(k)
			if strings.Contains(lower, "simpleearn-flexible") || strings.Contains(lower, "-ld") {
				if v > flexTotal {
					flexTotal = v
				}
			}
		}

		// Bucket 2: locked positions, staking, vault
		var lockedTotal float64
		for k, v := range sources {
			lower := strings.ToLower(k)
			if strings.Contains(lower, "simpleearn-locked") ||
				strings.Contains(lower, "staking-") ||
				strings.Contains(lower, "bnb-vault") {
				if v > lockedTotal {
					lockedTotal = v
				}
			}
		}

		// Bucket 3: funding wallet
		var fundingTotal float64
		for k, v := range sources {
			lower := strings.ToLower(k)
			if strings.Contains(lower, "funding-") || strings.Contains(lower, "funding_asset") {
				if v > fundingTotal {
					fundingTotal = v
				}
			}
		}

		// Bucket 4: pure liquid balances, additive
		var liquidTotal float64
		for k, v := range sources {
			lower := strings.ToLower(k)
			if strings.Contains(lower, "simpleearn-") ||
				strings.Contains(lower, "staking-") ||
				strings.Contains(lower, "funding-") ||
				strings.Contains(lower, "-ld") ||
				strings.Contains(lower, "bnb-vault") ||
				strings.Contains(lower, "funding_asset") {
				continue
			}
			liquidTotal += v
		}

		total := flexTotal + lockedTotal + fundingTotal + liquidTotal
		if total > 1e-8 {
			final[symbol] = total
		}
	}

	return final
}
