package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/songzhibin97/quantaguard/internal/utils/request"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// BinanceDataSource reads public USDⓈ-M futures statistics.
type BinanceDataSource struct {
	baseURL    string
	httpClient *resty.Client
}

func NewBinanceDataSource() *BinanceDataSource {
	return &BinanceDataSource{
		baseURL:    "https://fapi.binance.com",
		httpClient: request.Request,
	}
}

func (b *BinanceDataSource) Name() string {
	return "binance"
}

// CollectDerivatives combines premium index (funding, mark) and open interest.
func (b *BinanceDataSource) CollectDerivatives(ctx context.Context, symbol string) (*models.DerivativesStats, error) {
	var premium struct {
		Symbol          string `json:"symbol"`
		MarkPrice       string `json:"markPrice"`
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := b.get(ctx, "/fapi/v1/premiumIndex", symbol, &premium); err != nil {
		return nil, err
	}

	var oi struct {
		Symbol       string `json:"symbol"`
		OpenInterest string `json:"openInterest"`
		Time         int64  `json:"time"`
	}
	if err := b.get(ctx, "/fapi/v1/openInterest", symbol, &oi); err != nil {
		return nil, err
	}

	funding, err := strconv.ParseFloat(premium.LastFundingRate, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse funding rate: %w", err)
	}

	mark, err := strconv.ParseFloat(premium.MarkPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mark price: %w", err)
	}

	openInterest, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse open interest: %w", err)
	}

	ts := time.Now()
	if oi.Time > 0 {
		ts = time.UnixMilli(oi.Time)
	}

	return &models.DerivativesStats{
		Symbol:       symbol,
		FundingRate:  funding,
		MarkPrice:    mark,
		OpenInterest: openInterest,
		Timestamp:    ts,
	}, nil
}

func (b *BinanceDataSource) get(ctx context.Context, path, symbol string, out interface{}) error {
	resp, err := b.httpClient.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get(b.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
