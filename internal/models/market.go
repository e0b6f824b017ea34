package models

import "time"

// Candle K线
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Closed   bool      `json:"closed"` // 是否已收盘
}

// TrendState 大周期趋势
type TrendState string

const (
	TrendBullish TrendState = "BULLISH"
	TrendBearish TrendState = "BEARISH"
)

// Pivots are classic floor pivots derived from one closed bar.
type Pivots struct {
	P  float64 `json:"p"`
	R1 float64 `json:"r1"`
	R2 float64 `json:"r2"`
	S1 float64 `json:"s1"`
	S2 float64 `json:"s2"`
}

// TechnicalSnapshot is the indicator bundle handed to the decision engine.
// Every value is computed over the last confirmed candle of the primary timeframe.
type TechnicalSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	CandleAt  time.Time `json:"candle_at"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`

	FastEMA float64 `json:"fast_ema"`
	SlowEMA float64 `json:"slow_ema"`
	RSI     float64 `json:"rsi"`
	ADX     float64 `json:"adx"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`

	BollingerUpper  float64 `json:"bollinger_upper"`
	BollingerMiddle float64 `json:"bollinger_middle"`
	BollingerLower  float64 `json:"bollinger_lower"`

	StochRSIK float64 `json:"stoch_rsi_k"`
	StochRSID float64 `json:"stoch_rsi_d"`

	ATR       float64 `json:"atr"`
	VolumeSMA float64 `json:"volume_sma"`

	Pivots    Pivots `json:"pivots"`
	HasPivots bool   `json:"has_pivots"`

	Trend        TrendState `json:"trend,omitempty"`
	FundingRate  float64    `json:"funding_rate"`
	OpenInterest float64    `json:"open_interest"`
}

// DerivativesStats 资金费率与持仓量
type DerivativesStats struct {
	Symbol       string    `json:"symbol"`
	FundingRate  float64   `json:"funding_rate"`
	MarkPrice    float64   `json:"mark_price"`
	OpenInterest float64   `json:"open_interest"`
	Timestamp    time.Time `json:"timestamp"`
}
