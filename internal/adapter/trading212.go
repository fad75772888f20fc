package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	trading212LiveURL = "https://live.trading212.com"
	trading212DemoURL = "https://demo.trading212.com"
)

// Trading212Adapter fetches equity positions and account cash from the
// Trading212 REST API
type Trading212Adapter struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string // overrides live/demo selection when set (tests)
}

// NewTrading212Adapter creates a Trading212 adapter. The API allows roughly
// one request per second per key, enforced client-side.
func NewTrading212Adapter(timeout time.Duration) *Trading212Adapter {
	return &Trading212Adapter{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
}

// ProviderID returns the provider this adapter serves
func (a *Trading212Adapter) ProviderID() types.ProviderID {
	return types.ProviderTrading212
}

func (a *Trading212Adapter) resolveBaseURL(settings map[string]string) string {
	if a.baseURL != "" {
		return a.baseURL
	}
	if settings["is_demo"] == "true" {
		return trading212DemoURL
	}
	return trading212LiveURL
}

func (a *Trading212Adapter) get(ctx context.Context, baseURL, apiKey, path string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("trading212 %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

type trading212AccountInfo struct {
	CurrencyCode string `json:"currencyCode"`
}

type trading212Cash struct {
	Free    float64 `json:"free"`
	PieCash float64 `json:"pieCash"`
	Blocked float64 `json:"blocked"`
}

type trading212Position struct {
	Ticker       string  `json:"ticker"`
	Quantity     float64 `json:"quantity"`
	CurrentPrice float64 `json:"currentPrice"`
}

// ValidateCredentials checks that the API key can read account metadata
func (a *Trading212Adapter) ValidateCredentials(ctx context.Context, credentials map[string]string, settings map[string]string) error {
	apiKey := credentials["api_key"]
	if apiKey == "" {
		return fmt.Errorf("missing api_key credential")
	}
	var info trading212AccountInfo
	return a.get(ctx, a.resolveBaseURL(settings), apiKey, "/api/v0/equity/account/info", &info)
}

// FetchBalances returns account cash plus all open equity positions. Account
// metadata must succeed: falling back to a guessed currency on a failed
// metadata call would corrupt the user's data.
func (a *Trading212Adapter) FetchBalances(ctx context.Context, credentials map[string]string, settings map[string]string) ([]Balance, error) {
	apiKey := credentials["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("missing api_key credential")
	}
	baseURL := a.resolveBaseURL(settings)

	var info trading212AccountInfo
	if err := a.get(ctx, baseURL, apiKey, "/api/v0/equity/account/info", &info); err != nil {
		return nil, fmt.Errorf("account metadata fetch failed: %w", err)
	}
	currency := info.CurrencyCode
	if currency == "" {
		currency = "USD"
	}

	var cash trading212Cash
	if err := a.get(ctx, baseURL, apiKey, "/api/v0/equity/account/cash", &cash); err != nil {
		return nil, fmt.Errorf("cash fetch failed: %w", err)
	}

	var positions []trading212Position
	if err := a.get(ctx, baseURL, apiKey, "/api/v0/equity/portfolio", &positions); err != nil {
		return nil, fmt.Errorf("portfolio fetch failed: %w", err)
	}

	var balances []Balance

	// Free, pie and blocked cash together form the full liquidity view
	totalCash := cash.Free + cash.PieCash + cash.Blocked
	if totalCash > 0 {
		balances = append(balances, Balance{
			Symbol:         currency,
			OriginalSymbol: currency,
			DisplayName:    currency,
			AssetClass:     types.AssetFiat,
			Amount:         decimal.NewFromFloat(totalCash),
			NativePrice:    decimal.NewFromInt(1),
			Currency:       currency,
			IconURL:        ResolveIcon(types.AssetFiat, currency),
		})
	}

	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		symbol := normalizeTrading212Ticker(p.Ticker)
		balances = append(balances, Balance{
			Symbol:         symbol,
			OriginalSymbol: p.Ticker,
			DisplayName:    symbol,
			AssetClass:     types.AssetStock,
			Amount:         decimal.NewFromFloat(p.Quantity),
			NativePrice:    decimal.NewFromFloat(p.CurrentPrice),
			Currency:       currency,
			IconURL:        ResolveIcon(types.AssetStock, symbol),
		})
	}

	return balances, nil
}

// normalizeTrading212Ticker strips the exchange suffix: AAPL_US_EQ -> AAPL
func normalizeTrading212Ticker(ticker string) string {
	if i := strings.Index(ticker, "_"); i > 0 {
		return ticker[:i]
	}
	return ticker
}
