package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}

func newCurrencyService(t *testing.T, handler http.HandlerFunc) *CurrencyService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewCurrencyService(&config.CurrencyConfig{
		APIURL:          srv.URL,
		RefreshInterval: time.Hour,
		RequestTimeout:  2 * time.Second,
	}, testLogger())
}

func TestGetRateConversions(t *testing.T) {
	s := newCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
		// units per USD, as the API reports them
		_, _ = w.Write([]byte(`{"result":"success","rates":{"USD":1,"EUR":0.8,"GBP":0.5}}`))
	})
	ctx := context.Background()

	assert.Equal(t, 1.0, s.GetRate(ctx, "USD", "USD"))
	assert.InDelta(t, 1.25, s.GetRate(ctx, "EUR", "USD"), 1e-9)
	assert.InDelta(t, 0.8, s.GetRate(ctx, "USD", "EUR"), 1e-9)
	assert.InDelta(t, 0.625, s.GetRate(ctx, "GBP", "EUR"), 1e-9, "cross rate goes through USD")
	assert.Equal(t, 1.0, s.GetRate(ctx, "XYZ", "USD"), "unknown currency degrades to 1.0")
	assert.False(t, s.LastRefreshed().IsZero())
}

func TestGetRateIsCaseInsensitive(t *testing.T) {
	s := newCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"success","rates":{"eur":0.8}}`))
	})

	assert.InDelta(t, 1.25, s.GetRate(context.Background(), "eur", "usd"), 1e-9)
}

func TestRefreshFailureInstallsFallbackRates(t *testing.T) {
	s := newCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := s.RefreshRates(context.Background())
	require.Error(t, err)

	// Fallback table is in place, so EUR still converts with a sane rate
	rate := s.GetRate(context.Background(), "EUR", "USD")
	assert.InDelta(t, 1.08, rate, 1e-9)
}

func TestRefreshFailureKeepsEarlierRates(t *testing.T) {
	healthy := true
	s := newCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"result":"success","rates":{"EUR":0.8}}`))
	})
	ctx := context.Background()

	require.NoError(t, s.RefreshRates(ctx))
	healthy = false
	require.Error(t, s.RefreshRates(ctx))

	assert.InDelta(t, 1.25, s.GetRate(ctx, "EUR", "USD"), 1e-9,
		"real rates survive a later refresh failure")
}

func TestRefreshRejectsNonSuccessResult(t *testing.T) {
	s := newCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"error","rates":{}}`))
	})

	assert.Error(t, s.RefreshRates(context.Background()))
}
