package risk

import (
	"context"
)

// BalanceProvider fetches the available margin balance for an asset.
type BalanceProvider interface {
	GetBalance(ctx context.Context, asset string) (float64, error)
}

// SizingParameters 仓位计算参数
type SizingParameters struct {
	Asset       string  `json:"asset" yaml:"asset"`               // 保证金资产, e.g. USDT
	RiskPercent float64 `json:"risk_percent" yaml:"risk_percent"` // 每笔使用余额百分比
	MinOrder    float64 `json:"min_order" yaml:"min_order"`       // 最小名义价值
}

// ProtectionParams 止损止盈参数
type ProtectionParams struct {
	TrapSafetyFactor  float64 `json:"trap_safety_factor" yaml:"trap_safety_factor"`   // SL = ATR × factor
	TPMultiplier      float64 `json:"tp_multiplier" yaml:"tp_multiplier"`             // TP = ATR × multiplier
	FallbackSLPercent float64 `json:"fallback_sl_percent" yaml:"fallback_sl_percent"` // 无ATR时止损百分比
	FallbackTPPercent float64 `json:"fallback_tp_percent" yaml:"fallback_tp_percent"` // 无ATR时止盈百分比
}

// Levels are absolute stop-loss and take-profit trigger prices.
type Levels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}
