package adapter

import (
	"fmt"
	"strings"

	"github.com/portfolio-aggregator/internal/types"
)

// iconResolver builds an icon URL for a symbol
type iconResolver func(symbol string) string

// iconResolvers maps asset classes to icon URL builders. The mapping is fixed
// at startup; adapters call ResolveIcon instead of registering resolvers at
// runtime.
var iconResolvers = map[types.AssetClass]iconResolver{
	types.AssetCrypto: func(symbol string) string {
		return fmt.Sprintf("https://cdn.jsdelivr.net/gh/spothq/cryptocurrency-icons@master/128/color/%s.png",
			strings.ToLower(symbol))
	},
	types.AssetStock: func(symbol string) string {
		return fmt.Sprintf("https://assets.parqet.com/logos/symbol/%s", strings.ToUpper(symbol))
	},
	types.AssetFiat: func(symbol string) string {
		return fmt.Sprintf("https://wise.com/public-resources/assets/flags/rectangle/%s.png",
			strings.ToLower(symbol))
	},
}

// ResolveIcon returns the icon URL for a symbol of the given asset class
func ResolveIcon(class types.AssetClass, symbol string) string {
	if resolve, ok := iconResolvers[class]; ok {
		return resolve(symbol)
	}
	return ""
}
