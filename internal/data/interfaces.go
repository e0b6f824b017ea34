package data

import (
	"context"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// CandleSink receives kline updates, upserted by open time
type CandleSink interface {
	UpsertCandle(symbol, timeframe string, candle models.Candle) bool
}

// DerivativesSink receives slow-moving futures statistics
type DerivativesSink interface {
	SetDerivativesStats(symbol string, fundingRate, openInterest float64)
}

// Refresher 定时拉取不适合走推送的数据 (funding, open interest)
type Refresher interface {
	Refresh(ctx context.Context) error
}

// UserEventHandler receives private account and order events verbatim
type UserEventHandler interface {
	HandleUserEvent(ctx context.Context, event models.StreamEvent)
}
