package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const binanceAPIURL = "https://api.binance.com"

var binanceStablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true, "FDUSD": true,
}

// BinanceAdapter fetches balances across Binance wallet types (spot, Simple
// Earn flexible, funding) and consolidates them with the bucket dedup rules.
type BinanceAdapter struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string // overrides the API URL when set (tests)
	now     func() time.Time
}

// NewBinanceAdapter creates a Binance adapter
func NewBinanceAdapter(timeout time.Duration) *BinanceAdapter {
	return &BinanceAdapter{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		now:     time.Now,
	}
}

// ProviderID returns the provider this adapter serves
func (a *BinanceAdapter) ProviderID() types.ProviderID {
	return types.ProviderBinance
}

func (a *BinanceAdapter) resolveBaseURL() string {
	if a.baseURL != "" {
		return a.baseURL
	}
	return binanceAPIURL
}

func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedGet performs an authenticated request with timestamp and signature
func (a *BinanceAdapter) signedGet(ctx context.Context, apiKey, apiSecret, path string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(a.now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + sign(apiSecret, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolveBaseURL()+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("binance %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (a *BinanceAdapter) publicGet(ctx context.Context, path string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolveBaseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

type binanceAccount struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type binanceFlexiblePositions struct {
	Rows []struct {
		Asset       string `json:"asset"`
		TotalAmount string `json:"totalAmount"`
	} `json:"rows"`
}

type binanceFundingAsset struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
	Freeze string `json:"freeze"`
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// ValidateCredentials checks that the API key pair can read the spot account
func (a *BinanceAdapter) ValidateCredentials(ctx context.Context, credentials map[string]string, settings map[string]string) error {
	apiKey, apiSecret := credentials["api_key"], credentials["api_secret"]
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("missing api_key or api_secret credential")
	}
	var account binanceAccount
	return a.signedGet(ctx, apiKey, apiSecret, "/api/v3/account", &account)
}

// FetchBalances merges spot, flexible-earn and funding balances, deduplicates
// overlapping reports and prices each asset from the public ticker feed
func (a *BinanceAdapter) FetchBalances(ctx context.Context, credentials map[string]string, settings map[string]string) ([]Balance, error) {
	apiKey, apiSecret := credentials["api_key"], credentials["api_secret"]
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("missing api_key or api_secret credential")
	}

	// symbol -> source -> amount, feeding the dedup buckets
	detailed := make(map[string]map[string]float64)
	record := func(rawAsset, source string, amount float64) {
		if amount <= 0 {
			return
		}
		symbol := normalizeBinanceAsset(rawAsset)
		if detailed[symbol] == nil {
			detailed[symbol] = make(map[string]float64)
		}
		detailed[symbol][source] += amount
	}

	var account binanceAccount
	if err := a.signedGet(ctx, apiKey, apiSecret, "/api/v3/account", &account); err != nil {
		return nil, fmt.Errorf("spot account fetch failed: %w", err)
	}
	for _, b := range account.Balances {
		record(b.Asset, "spot-"+b.Asset, parseFloat(b.Free)+parseFloat(b.Locked))
	}

	var flexible binanceFlexiblePositions
	if err := a.signedGet(ctx, apiKey, apiSecret, "/sapi/v1/simple-earn/flexible/position", &flexible); err != nil {
		return nil, fmt.Errorf("flexible positions fetch failed: %w", err)
	}
	for _, row := range flexible.Rows {
		record(row.Asset, "SimpleEarn-Flexible", parseFloat(row.TotalAmount))
	}

	var funding []binanceFundingAsset
	if err := a.signedGet(ctx, apiKey, apiSecret, "/sapi/v1/asset/get-funding-asset", &funding); err != nil {
		return nil, fmt.Errorf("funding wallet fetch failed: %w", err)
	}
	for _, f := range funding {
		record(f.Asset, "funding-"+f.Asset, parseFloat(f.Free)+parseFloat(f.Locked)+parseFloat(f.Freeze))
	}

	amounts := DeduplicateBalances(detailed)
	if len(amounts) == 0 {
		return nil, nil
	}

	var tickers []binanceTicker
	if err := a.publicGet(ctx, "/api/v3/ticker/price", &tickers); err != nil {
		return nil, fmt.Errorf("ticker fetch failed: %w", err)
	}
	prices := make(map[string]float64, len(tickers))
	for _, tk := range tickers {
		prices[tk.Symbol] = parseFloat(tk.Price)
	}

	var balances []Balance
	for symbol, amount := range amounts {
		price := lookupBinancePrice(prices, symbol)
		originalSymbol := symbol
		for raw := range detailed[symbol] {
			if strings.HasPrefix(raw, "spot-LD") {
				originalSymbol = strings.TrimPrefix(raw, "spot-")
				break
			}
		}
		balances = append(balances, Balance{
			Symbol:         symbol,
			OriginalSymbol: originalSymbol,
			DisplayName:    symbol,
			AssetClass:     types.AssetCrypto,
			Amount:         decimal.NewFromFloat(amount),
			NativePrice:    decimal.NewFromFloat(price),
			Currency:       "USD",
			IconURL:        ResolveIcon(types.AssetCrypto, symbol),
		})
	}
	return balances, nil
}

// normalizeBinanceAsset strips the Simple Earn LD prefix: LDBTC -> BTC
func normalizeBinanceAsset(asset string) string {
	if strings.HasPrefix(asset, "LD") && len(asset) > 2 {
		return asset[2:]
	}
	return asset
}

func lookupBinancePrice(prices map[string]float64, symbol string) float64 {
	if binanceStablecoins[symbol] {
		return 1.0
	}
	if p, ok := prices[symbol+"USDT"]; ok {
		return p
	}
	if p, ok := prices[symbol+"USDC"]; ok {
		return p
	}
	return 0.0
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
