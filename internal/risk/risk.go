package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// Size converts a balance and a risk percentage into an order notional with a floor.
// ok is false when the balance is unknown or not positive; callers must skip the entry.
func Size(balance, riskPercent, minOrder float64) (notional float64, ok bool) {
	if math.IsNaN(balance) || balance <= 0 {
		return 0, false
	}
	return math.Max(balance*riskPercent/100, minOrder), true
}

// Sizer sizes entries from the live account balance.
type Sizer struct {
	balances BalanceProvider
	params   SizingParameters
	logger   *slog.Logger
}

func NewSizer(balances BalanceProvider, params SizingParameters, logger *slog.Logger) *Sizer {
	if params.Asset == "" {
		params.Asset = "USDT"
	}
	return &Sizer{
		balances: balances,
		params:   params,
		logger:   logger,
	}
}

// Notional fetches the balance and sizes the next entry. Fails closed.
func (s *Sizer) Notional(ctx context.Context) (float64, bool) {
	balance, err := s.balances.GetBalance(ctx, s.params.Asset)
	if err != nil {
		s.logger.Error("failed to fetch balance, skipping entry", "asset", s.params.Asset, "err", err)
		return 0, false
	}

	notional, ok := Size(balance, s.params.RiskPercent, s.params.MinOrder)
	if !ok {
		s.logger.Warn("non-positive balance, skipping entry", "asset", s.params.Asset, "balance", balance)
	}
	return notional, ok
}

// Validate checks the sizing parameters.
func (p SizingParameters) Validate() error {
	if p.RiskPercent <= 0 || p.RiskPercent > 100 {
		return fmt.Errorf("invalid risk percent: %v", p.RiskPercent)
	}
	if p.MinOrder < 0 {
		return fmt.Errorf("invalid min order: %v", p.MinOrder)
	}
	return nil
}

// Validate checks that every distance factor is positive.
func (p ProtectionParams) Validate() error {
	if p.TrapSafetyFactor <= 0 || p.TPMultiplier <= 0 ||
		p.FallbackSLPercent <= 0 || p.FallbackTPPercent <= 0 {
		return fmt.Errorf("invalid protection parameters: all values must be positive")
	}
	return nil
}

// ProtectionLevels computes SL/TP for a position entered at entry.
// A positive atr sizes the distances from volatility; otherwise fixed percentages apply.
func ProtectionLevels(entry, atr float64, side models.Side, params ProtectionParams) Levels {
	var slDistance, tpDistance float64
	if atr > 0 {
		slDistance = atr * params.TrapSafetyFactor
		tpDistance = atr * params.TPMultiplier
	} else {
		slDistance = entry * params.FallbackSLPercent / 100
		tpDistance = entry * params.FallbackTPPercent / 100
	}

	if side == models.SideShort {
		return Levels{
			StopLoss:   entry + slDistance,
			TakeProfit: entry - tpDistance,
		}
	}
	return Levels{
		StopLoss:   entry - slDistance,
		TakeProfit: entry + tpDistance,
	}
}
