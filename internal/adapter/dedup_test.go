package adapter

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestDeduplicateBalancesFlexibleOverlap(t *testing.T) {
	// LD spot asset and flexible earn report the same position
	detailed := map[string]map[string]float64{
		"USDT": {
			"spot-LDUSDT":         100.0,
			"SimpleEarn-Flexible": 100.0,
			"spot-USDT":           25.0,
		},
	}

	final := DeduplicateBalances(detailed)
	assert.InDelta(t, 125.0, final["USDT"], 1e-9)
}

func TestDeduplicateBalancesAllBuckets(t *testing.T) {
	detailed := map[string]map[string]float64{
		"BNB": {
			"spot-BNB":            1.0,
			"SimpleEarn-Flexible": 2.0,
			"SimpleEarn-Locked":   3.0,
			"bnb-vault":           2.5,
			"funding-BNB":         0.5,
		},
	}

	final := DeduplicateBalances(detailed)
	// liquid 1.0 + flex max 2.0 + locked max(3.0, 2.5) + funding 0.5
	assert.InDelta(t, 6.5, final["BNB"], 1e-9)
}

func TestDeduplicateBalancesDropsDust(t *testing.T) {
	detailed := map[string]map[string]float64{
		"DUST": {"spot-DUST": 1e-12},
	}

	final := DeduplicateBalances(detailed)
	_, ok := final["DUST"]
	assert.False(t, ok)
}

func TestDeduplicateBalancesEmpty(t *testing.T) {
	assert.Empty(t, DeduplicateBalances(nil))
	assert.Empty(t, DeduplicateBalances(map[string]map[string]float64{}))
}

// Property-based checks over arbitrary source maps
func TestDeduplicateBalancesProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	sourceKeys := gen.OneConstOf(
		"spot-BTC", "spot-LDBTC", "SimpleEarn-Flexible", "SimpleEarn-Locked",
		"staking-eth2", "bnb-vault", "funding-BTC", "funding_asset", "margin-BTC",
	)
	sourceMap := gen.MapOf(sourceKeys, gen.Float64Range(0, 1e6))

	properties := gopter.NewProperties(parameters)

	properties.Property("totals are never negative", prop.ForAll(
		func(sources map[string]float64) bool {
			final := DeduplicateBalances(map[string]map[string]float64{"X": sources})
			return final["X"] >= 0
		},
		sourceMap,
	))

	properties.Property("total never exceeds the plain sum of all sources", prop.ForAll(
		func(sources map[string]float64) bool {
			var plain float64
			for _, v := range sources {
				plain += v
			}
			final := DeduplicateBalances(map[string]map[string]float64{"X": sources})
			return final["X"] <= plain+1e-6
		},
		sourceMap,
	))

	properties.Property("total is at least the largest single source when above dust", prop.ForAll(
		func(sources map[string]float64) bool {
			var max float64
			for _, v := range sources {
				if v > max {
					max = v
				}
			}
			final := DeduplicateBalances(map[string]map[string]float64{"X": sources})
			if max <= 1e-8 {
				return true
			}
			return final["X"] >= max-1e-6
		},
		sourceMap,
	))

	properties.TestingRun(t)
}
