package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

var weiPerEther = decimal.New(1, 18)

// etherPricer returns the current ETH price in USD
type etherPricer interface {
	EtherPriceUSD(ctx context.Context) (decimal.Decimal, error)
}

// EthereumAdapter reads the on-chain ETH balance of a watched address. The
// "credential" is just the address; the RPC endpoint comes from settings.
type EthereumAdapter struct {
	rpcURL string // default endpoint when the integration has none
	pricer etherPricer
}

// NewEthereumAdapter creates an Ethereum adapter with a default RPC endpoint
func NewEthereumAdapter(rpcURL string) *EthereumAdapter {
	return &EthereumAdapter{
		rpcURL: rpcURL,
		pricer: &binanceTickerPricer{client: &http.Client{Timeout: 10 * time.Second}},
	}
}

// ProviderID returns the provider this adapter serves
func (a *EthereumAdapter) ProviderID() types.ProviderID {
	return types.ProviderEthereum
}

func (a *EthereumAdapter) resolveRPCURL(settings map[string]string) string {
	if url := settings["rpc_url"]; url != "" {
		return url
	}
	return a.rpcURL
}

// ValidateCredentials checks the address format and RPC reachability
func (a *EthereumAdapter) ValidateCredentials(ctx context.Context, credentials map[string]string, settings map[string]string) error {
	address := credentials["address"]
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid ethereum address: %s", address)
	}

	client, err := ethclient.DialContext(ctx, a.resolveRPCURL(settings))
	if err != nil {
		return fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	defer client.Close()

	if _, err := client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("RPC endpoint unreachable: %w", err)
	}
	return nil
}

// FetchBalances returns the address's ETH balance priced in USD
func (a *EthereumAdapter) FetchBalances(ctx context.Context, credentials map[string]string, settings map[string]string) ([]Balance, error) {
	address := credentials["address"]
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid ethereum address: %s", address)
	}

	client, err := ethclient.DialContext(ctx, a.resolveRPCURL(settings))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	defer client.Close()

	wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	if wei.Sign() == 0 {
		return nil, nil
	}

	amount := decimal.NewFromBigInt(new(big.Int).Set(wei), 0).Div(weiPerEther)

	price, err := a.pricer.EtherPriceUSD(ctx)
	if err != nil {
		return nil, fmt.Errorf("ether price lookup failed: %w", err)
	}

	return []Balance{{
		Symbol:         "ETH",
		OriginalSymbol: "ETH",
		DisplayName:    "Ethereum",
		AssetClass:     types.AssetCrypto,
		Amount:         amount,
		NativePrice:    price,
		Currency:       "USD",
		IconURL:        ResolveIcon(types.AssetCrypto, "ETH"),
	}}, nil
}

// binanceTickerPricer prices ETH from the public Binance ticker endpoint
type binanceTickerPricer struct {
	client  *http.Client
	baseURL string
}

func (p *binanceTickerPricer) EtherPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	baseURL := p.baseURL
	if baseURL == "" {
		baseURL = binanceAPIURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v3/ticker/price?symbol=ETHUSDT", nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return decimal.Zero, fmt.Errorf("ticker returned %d: %s", resp.StatusCode, string(body))
	}

	var ticker binanceTicker
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(ticker.Price)
}
