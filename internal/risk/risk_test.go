package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/songzhibin97/quantaguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBalances struct {
	balance float64
	err     error
	asset   string
}

func (s *stubBalances) GetBalance(ctx context.Context, asset string) (float64, error) {
	s.asset = asset
	return s.balance, s.err
}

func TestSize(t *testing.T) {
	tests := []struct {
		name        string
		balance     float64
		riskPercent float64
		minOrder    float64
		want        float64
		wantOK      bool
	}{
		{name: "percent above floor", balance: 1000, riskPercent: 10, minOrder: 20, want: 100, wantOK: true},
		{name: "floor applies", balance: 100, riskPercent: 5, minOrder: 20, want: 20, wantOK: true},
		{name: "zero balance", balance: 0, riskPercent: 10, minOrder: 20, want: 0, wantOK: false},
		{name: "negative balance", balance: -5, riskPercent: 10, minOrder: 20, want: 0, wantOK: false},
		{name: "nan balance", balance: math.NaN(), riskPercent: 10, minOrder: 20, want: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Size(tt.balance, tt.riskPercent, tt.minOrder)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSizer_Notional(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	params := SizingParameters{RiskPercent: 2, MinOrder: 10}

	t.Run("uses fetched balance", func(t *testing.T) {
		balances := &stubBalances{balance: 5000}
		s := NewSizer(balances, params, logger)

		notional, ok := s.Notional(context.Background())
		require.True(t, ok)
		assert.InDelta(t, 100.0, notional, 1e-9)
		assert.Equal(t, "USDT", balances.asset)
	})

	t.Run("fetch error fails closed", func(t *testing.T) {
		s := NewSizer(&stubBalances{err: errors.New("timeout")}, params, logger)

		notional, ok := s.Notional(context.Background())
		assert.False(t, ok)
		assert.Zero(t, notional)
	})
}

func TestProtectionLevels(t *testing.T) {
	params := ProtectionParams{
		TrapSafetyFactor:  0.5,
		TPMultiplier:      2.2,
		FallbackSLPercent: 1.5,
		FallbackTPPercent: 3,
	}

	tests := []struct {
		name   string
		entry  float64
		atr    float64
		side   models.Side
		wantSL float64
		wantTP float64
	}{
		{name: "atr long", entry: 100, atr: 2, side: models.SideLong, wantSL: 99.0, wantTP: 104.4},
		{name: "atr short", entry: 100, atr: 2, side: models.SideShort, wantSL: 101.0, wantTP: 95.6},
		{name: "fallback long", entry: 200, atr: 0, side: models.SideLong, wantSL: 197, wantTP: 206},
		{name: "fallback short", entry: 200, atr: 0, side: models.SideShort, wantSL: 203, wantTP: 194},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels := ProtectionLevels(tt.entry, tt.atr, tt.side, params)
			assert.InDelta(t, tt.wantSL, levels.StopLoss, 1e-9)
			assert.InDelta(t, tt.wantTP, levels.TakeProfit, 1e-9)
		})
	}
}

func TestParameters_Validate(t *testing.T) {
	assert.NoError(t, SizingParameters{RiskPercent: 5, MinOrder: 10}.Validate())
	assert.Error(t, SizingParameters{RiskPercent: 0}.Validate())
	assert.Error(t, SizingParameters{RiskPercent: 150}.Validate())

	assert.NoError(t, ProtectionParams{TrapSafetyFactor: 1, TPMultiplier: 2, FallbackSLPercent: 1, FallbackTPPercent: 2}.Validate())
	assert.Error(t, ProtectionParams{TrapSafetyFactor: 1}.Validate())
}
