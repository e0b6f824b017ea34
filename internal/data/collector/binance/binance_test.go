package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, responses map[string]interface{}) (*httptest.Server, *BinanceDataSource) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(response)
		require.NoError(t, err)
	}))

	binanceDS := NewBinanceDataSource()
	binanceDS.baseURL = server.URL
	binanceDS.httpClient = resty.NewWithClient(server.Client())

	return server, binanceDS
}

func TestBinanceDataSource_Name(t *testing.T) {
	ds := NewBinanceDataSource()
	assert.Equal(t, "binance", ds.Name())
}

func TestBinanceDataSource_CollectDerivatives(t *testing.T) {
	premium := map[string]interface{}{
		"symbol":          "BTCUSDT",
		"markPrice":       "42010.50000000",
		"indexPrice":      "42000.00000000",
		"lastFundingRate": "0.00010000",
		"nextFundingTime": 1709280000000,
		"time":            1709270000000,
	}
	openInterest := map[string]interface{}{
		"symbol":       "BTCUSDT",
		"openInterest": "81234.567",
		"time":         1709270000123,
	}

	tests := []struct {
		name        string
		responses   map[string]interface{}
		expectError bool
	}{
		{
			name: "valid response",
			responses: map[string]interface{}{
				"/fapi/v1/premiumIndex": premium,
				"/fapi/v1/openInterest": openInterest,
			},
		},
		{
			name: "invalid number format",
			responses: map[string]interface{}{
				"/fapi/v1/premiumIndex": map[string]interface{}{"symbol": "BTCUSDT", "markPrice": "1", "lastFundingRate": "invalid"},
				"/fapi/v1/openInterest": openInterest,
			},
			expectError: true,
		},
		{
			name: "open interest unavailable",
			responses: map[string]interface{}{
				"/fapi/v1/premiumIndex": premium,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, ds := setupTestServer(t, tt.responses)
			defer server.Close()

			stats, err := ds.CollectDerivatives(context.Background(), "BTCUSDT")
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, stats)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "BTCUSDT", stats.Symbol)
			assert.Equal(t, 0.0001, stats.FundingRate)
			assert.Equal(t, 42010.5, stats.MarkPrice)
			assert.Equal(t, 81234.567, stats.OpenInterest)
			assert.Equal(t, time.UnixMilli(1709270000123), stats.Timestamp)
		})
	}
}

func TestBinanceDataSource_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   string
	}{
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			response:   `{"code":-1000,"msg":"internal error"}`,
		},
		{
			name:       "bad json",
			statusCode: http.StatusOK,
			response:   `{invalid`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			ds := NewBinanceDataSource()
			ds.baseURL = server.URL
			ds.httpClient = resty.NewWithClient(server.Client())

			stats, err := ds.CollectDerivatives(context.Background(), "BTCUSDT")
			assert.Error(t, err)
			assert.Nil(t, stats)
		})
	}
}

func TestBinanceDataSource_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ds := NewBinanceDataSource()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	stats, err := ds.CollectDerivatives(ctx, "BTCUSDT")
	if err != nil {
		t.Skipf("binance futures api unreachable: %v", err)
	}
	assert.Greater(t, stats.MarkPrice, 0.0)
	assert.Greater(t, stats.OpenInterest, 0.0)
}
