// Package service implements the sync orchestration, snapshot, currency and
// price services of the portfolio aggregator.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
)

// fallbackRates is the degraded-mode table used when the rate API has never
// succeeded. Approximate USD values per unit.
var fallbackRates = map[string]float64{
	"EUR": 1.08,
	"GBP": 1.27,
	"JPY": 0.0067,
	"CHF": 1.13,
	"PLN": 0.25,
}

// CurrencyService converts between currencies using cached exchange rates.
// Rates are stored as USD per unit of currency and refreshed at a configured
// interval. GetRate never fails: a missing rate degrades to 1.0.
type CurrencyService struct {
	client          *http.Client
	apiURL          string
	refreshInterval time.Duration
	log             *logging.Logger

	mu            sync.RWMutex
	rates         map[string]float64
	lastRefreshed time.Time
}

// NewCurrencyService creates a currency service from configuration
func NewCurrencyService(cfg *config.CurrencyConfig, log *logging.Logger) *CurrencyService {
	return &CurrencyService{
		client:          &http.Client{Timeout: cfg.RequestTimeout},
		apiURL:          cfg.APIURL,
		refreshInterval: cfg.RefreshInterval,
		log:             log,
		rates:           map[string]float64{"USD": 1.0},
	}
}

// LastRefreshed returns when rates were last successfully loaded
func (s *CurrencyService) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefreshed
}

// GetRate returns the exchange rate from one currency to another. Missing
// rates fall back to 1.0 rather than failing the caller.
func (s *CurrencyService) GetRate(ctx context.Context, from, to string) float64 {
	fromUp := strings.ToUpper(from)
	toUp := strings.ToUpper(to)

	if fromUp == toUp {
		return 1.0
	}

	s.refreshIfStale(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	fromRate, fromOK := s.rates[fromUp]
	toRate, toOK := s.rates[toUp]

	switch {
	case fromUp == "USD" && toOK:
		return 1.0 / toRate
	case toUp == "USD" && fromOK:
		return fromRate
	case fromOK && toOK:
		return fromRate / toRate
	}

	s.log.Warnf("No exchange rate for %s/%s, falling back to 1.0", fromUp, toUp)
	return 1.0
}

func (s *CurrencyService) refreshIfStale(ctx context.Context) {
	s.mu.RLock()
	stale := s.lastRefreshed.IsZero() || time.Since(s.lastRefreshed) > s.refreshInterval
	s.mu.RUnlock()

	if !stale {
		return
	}
	if err := s.RefreshRates(ctx); err != nil {
		s.log.WithError(err).Warn("Exchange rate refresh failed")
	}
}

type rateAPIResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// RefreshRates fetches the latest rates from the configured API. When the API
// has never succeeded, the hardcoded fallback table is installed instead.
func (s *CurrencyService) RefreshRates(ctx context.Context) error {
	err := s.fetchRates(ctx)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rates) <= 1 {
		for currency, rate := range fallbackRates {
			s.rates[currency] = rate
		}
		s.lastRefreshed = time.Now()
		s.log.Warn("Using fallback exchange rates")
	}
	return err
}

func (s *CurrencyService) fetchRates(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("rate request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate API returned %d", resp.StatusCode)
	}

	var payload rateAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode rate response: %w", err)
	}
	if payload.Result != "success" {
		return fmt.Errorf("rate API returned result %q", payload.Result)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The API reports units-per-USD; invert to store USD-per-unit
	for currency, perUSD := range payload.Rates {
		if perUSD > 0 {
			s.rates[strings.ToUpper(currency)] = 1.0 / perUSD
		}
	}
	s.rates["USD"] = 1.0
	s.lastRefreshed = time.Now()

	s.log.Infof("Exchange rates refreshed: %d currencies", len(payload.Rates))
	return nil
}
