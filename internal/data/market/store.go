package market

import (
	"sort"
	"sync"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// Config 行情缓存与指标参数
type Config struct {
	Capacity         int    `json:"capacity" yaml:"capacity"`                   // 每个序列最多保留K线数
	PrimaryTimeframe string `json:"primary_timeframe" yaml:"primary_timeframe"` // 信号周期, e.g. 15m
	TrendTimeframe   string `json:"trend_timeframe" yaml:"trend_timeframe"`     // 趋势周期, e.g. 4h
	ReferenceSymbol  string `json:"reference_symbol" yaml:"reference_symbol"`   // 全局趋势参考, e.g. BTCUSDT

	FastEMA  int `json:"fast_ema" yaml:"fast_ema"`
	SlowEMA  int `json:"slow_ema" yaml:"slow_ema"`
	TrendEMA int `json:"trend_ema" yaml:"trend_ema"`
	Margin   int `json:"margin" yaml:"margin"` // 计算快照所需的额外K线数

	RSIPeriod       int     `json:"rsi_period" yaml:"rsi_period"`
	ADXPeriod       int     `json:"adx_period" yaml:"adx_period"`
	ATRPeriod       int     `json:"atr_period" yaml:"atr_period"`
	BollingerPeriod int     `json:"bollinger_period" yaml:"bollinger_period"`
	BollingerStdDev float64 `json:"bollinger_std_dev" yaml:"bollinger_std_dev"`
	StochPeriod     int     `json:"stoch_period" yaml:"stoch_period"`
	StochK          int     `json:"stoch_k" yaml:"stoch_k"`
	StochD          int     `json:"stoch_d" yaml:"stoch_d"`
	VolumePeriod    int     `json:"volume_period" yaml:"volume_period"`

	// CorrelationFallback is returned when too few aligned points exist.
	CorrelationFallback float64 `json:"correlation_fallback" yaml:"correlation_fallback"`
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	setInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	setInt(&c.Capacity, 500)
	setInt(&c.FastEMA, 20)
	setInt(&c.SlowEMA, 50)
	setInt(&c.TrendEMA, 200)
	setInt(&c.Margin, 5)
	setInt(&c.RSIPeriod, 14)
	setInt(&c.ADXPeriod, 14)
	setInt(&c.ATRPeriod, 14)
	setInt(&c.BollingerPeriod, 20)
	setInt(&c.StochPeriod, 14)
	setInt(&c.StochK, 3)
	setInt(&c.StochD, 3)
	setInt(&c.VolumePeriod, 20)
	if c.BollingerStdDev <= 0 {
		c.BollingerStdDev = 2
	}
	if c.CorrelationFallback == 0 {
		c.CorrelationFallback = 0.99
	}
	if c.PrimaryTimeframe == "" {
		c.PrimaryTimeframe = "15m"
	}
	if c.TrendTimeframe == "" {
		c.TrendTimeframe = "4h"
	}
	if c.ReferenceSymbol == "" {
		c.ReferenceSymbol = "BTCUSDT"
	}
}

type seriesKey struct {
	symbol    string
	timeframe string
}

type derivatives struct {
	funding      float64
	openInterest float64
}

// Store is the multi-symbol, multi-timeframe OHLCV cache.
// One mutex guards everything and is never held across I/O.
type Store struct {
	cfg Config

	mu     sync.Mutex
	series map[seriesKey][]models.Candle
	trends map[string]models.TrendState
	stats  map[string]derivatives
}

func NewStore(cfg Config) *Store {
	cfg.SetDefaults()
	return &Store{
		cfg:    cfg,
		series: make(map[seriesKey][]models.Candle),
		trends: make(map[string]models.TrendState),
		stats:  make(map[string]derivatives),
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// UpsertCandle merges one candle into its series by OpenTime. It returns
// false when the candle was dropped as a late update of a superseded bar.
func (s *Store) UpsertCandle(symbol, timeframe string, c models.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{symbol, timeframe}
	series := s.series[key]
	n := len(series)

	switch {
	case n == 0 || c.OpenTime.After(series[n-1].OpenTime):
		series = append(series, c)
		if len(series) > s.cfg.Capacity {
			// copy keeps the backing array from growing without bound
			series = append(series[:0], series[len(series)-s.cfg.Capacity:]...)
		}
	case c.OpenTime.Equal(series[n-1].OpenTime):
		series[n-1] = c
	default:
		return false
	}
	s.series[key] = series

	if c.Closed && timeframe == s.cfg.TrendTimeframe {
		s.recomputeTrendLocked(symbol)
	}
	return true
}

// LoadHistory replaces a series with an initial REST load.
func (s *Store) LoadHistory(symbol, timeframe string, candles []models.Candle) {
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OpenTime.Before(sorted[j].OpenTime)
	})

	dedup := sorted[:0]
	for _, c := range sorted {
		if len(dedup) > 0 && c.OpenTime.Equal(dedup[len(dedup)-1].OpenTime) {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	if len(dedup) > s.cfg.Capacity {
		dedup = dedup[len(dedup)-s.cfg.Capacity:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[seriesKey{symbol, timeframe}] = append([]models.Candle(nil), dedup...)
	if timeframe == s.cfg.TrendTimeframe {
		s.recomputeTrendLocked(symbol)
	}
}

// Series returns a copy of one series.
func (s *Store) Series(symbol, timeframe string) []models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Candle(nil), s.series[seriesKey{symbol, timeframe}]...)
}

// SetDerivativesStats stores funding rate and open interest for a symbol.
func (s *Store) SetDerivativesStats(symbol string, fundingRate, openInterest float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[symbol] = derivatives{funding: fundingRate, openInterest: openInterest}
}

// Trend returns the last computed trend for symbol.
func (s *Store) Trend(symbol string) (models.TrendState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trends[symbol]
	return t, ok
}

// GlobalTrend returns the reference symbol's trend.
func (s *Store) GlobalTrend() (models.TrendState, bool) {
	return s.Trend(s.cfg.ReferenceSymbol)
}

// recomputeTrendLocked compares the last closed trend-timeframe close to its EMA.
func (s *Store) recomputeTrendLocked(symbol string) {
	confirmed := confirmedPrefix(s.series[seriesKey{symbol, s.cfg.TrendTimeframe}])
	if len(confirmed) < s.cfg.TrendEMA {
		return
	}
	values := closes(confirmed)
	if values[len(values)-1] > EMA(values, s.cfg.TrendEMA) {
		s.trends[symbol] = models.TrendBullish
	} else {
		s.trends[symbol] = models.TrendBearish
	}
}

// confirmedPrefix drops a trailing candle that is still forming.
func confirmedPrefix(series []models.Candle) []models.Candle {
	if n := len(series); n > 0 && !series[n-1].Closed {
		return series[:n-1]
	}
	return series
}

// TechnicalSnapshot computes the indicator bundle over the last confirmed
// primary-timeframe candle. The in-flight candle is always excluded.
func (s *Store) TechnicalSnapshot(symbol string) (*models.TechnicalSnapshot, bool) {
	s.mu.Lock()
	primary := s.series[seriesKey{symbol, s.cfg.PrimaryTimeframe}]
	if len(primary) < s.cfg.SlowEMA+s.cfg.Margin {
		s.mu.Unlock()
		return nil, false
	}
	confirmed := append([]models.Candle(nil), primary[:len(primary)-1]...)

	var pivotBar *models.Candle
	if trend := s.series[seriesKey{symbol, s.cfg.TrendTimeframe}]; len(trend) >= 2 {
		bar := trend[len(trend)-2]
		pivotBar = &bar
	}
	globalTrend := s.trends[s.cfg.ReferenceSymbol]
	stats := s.stats[symbol]
	s.mu.Unlock()

	cfg := s.cfg
	last := confirmed[len(confirmed)-1]
	closeValues := closes(confirmed)

	snap := &models.TechnicalSnapshot{
		Symbol:       symbol,
		Timeframe:    cfg.PrimaryTimeframe,
		CandleAt:     last.OpenTime,
		Close:        last.Close,
		Volume:       last.Volume,
		FastEMA:      EMA(closeValues, cfg.FastEMA),
		SlowEMA:      EMA(closeValues, cfg.SlowEMA),
		RSI:          RSI(closeValues, cfg.RSIPeriod),
		ATR:          ATR(confirmed, cfg.ATRPeriod),
		VolumeSMA:    SMA(volumes(confirmed), cfg.VolumePeriod),
		Trend:        globalTrend,
		FundingRate:  stats.funding,
		OpenInterest: stats.openInterest,
	}
	snap.ADX, snap.PlusDI, snap.MinusDI = ADX(confirmed, cfg.ADXPeriod)
	snap.BollingerUpper, snap.BollingerMiddle, snap.BollingerLower = Bollinger(closeValues, cfg.BollingerPeriod, cfg.BollingerStdDev)
	snap.StochRSIK, snap.StochRSID = StochRSI(closeValues, cfg.RSIPeriod, cfg.StochPeriod, cfg.StochK, cfg.StochD)
	if pivotBar != nil {
		snap.Pivots = PivotPoints(*pivotBar)
		snap.HasPivots = true
	}
	return snap, true
}

// Correlation returns the Pearson correlation of trend-timeframe closes
// aligned by OpenTime over the last period points. With fewer than period
// aligned points, or a flat series, it returns the configured fallback.
func (s *Store) Correlation(symbolA, symbolB string, period int) float64 {
	s.mu.Lock()
	a := s.series[seriesKey{symbolA, s.cfg.TrendTimeframe}]
	byTime := make(map[time.Time]float64, len(a))
	for _, c := range a {
		byTime[c.OpenTime] = c.Close
	}
	var xs, ys []float64
	for _, c := range s.series[seriesKey{symbolB, s.cfg.TrendTimeframe}] {
		if v, ok := byTime[c.OpenTime]; ok {
			xs = append(xs, v)
			ys = append(ys, c.Close)
		}
	}
	s.mu.Unlock()

	if period <= 1 || len(xs) < period {
		return s.cfg.CorrelationFallback
	}
	r, ok := Pearson(xs[len(xs)-period:], ys[len(ys)-period:])
	if !ok {
		return s.cfg.CorrelationFallback
	}
	return r
}
