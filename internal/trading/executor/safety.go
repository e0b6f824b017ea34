package executor

import (
	"context"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/trading"
)

// InstallSafetyOrders replaces every resting order of symbol with one
// close-position stop and one close-position take-profit. On failure the
// tracker stays PENDING_SAFETY and the next reconcile retries.
func (e *Executor) InstallSafetyOrders(ctx context.Context, symbol string, pos models.PositionSnapshot) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.installSafety(ctx, symbol, pos)
}

func (e *Executor) installSafety(ctx context.Context, symbol string, pos models.PositionSnapshot) error {
	if !pos.Open() {
		return fmt.Errorf("no open position for %s", symbol)
	}

	rec, tracked := e.tracker(symbol)
	from := rec.Status
	if !tracked {
		from = models.StatusNone
		rec = models.TrackerRecord{
			Symbol:      symbol,
			Side:        pos.Side,
			CreatedAt:   e.now(),
			StrategyTag: TagExternal,
		}
		e.logger.Warn("adopting untracked position", "symbol", symbol, "side", pos.Side, "contracts", pos.Contracts)
		e.send(ctx, fmt.Sprintf("%s untracked %s position of %.6f found, installing protection", symbol, pos.Side, pos.Contracts), true)
	}

	if rec.Status != models.StatusPendingSafety || rec.Side != pos.Side {
		rec.Status = models.StatusPendingSafety
		rec.Side = pos.Side
		rec.ExpiresAt = nil
		e.put(ctx, rec, from)
		from = models.StatusPendingSafety
	}

	if pos.EntryPrice <= 0 {
		return e.safetyFailed(ctx, symbol, fmt.Errorf("position entry price unknown"))
	}

	if err := e.exchange.CancelAllOrders(ctx, symbol); err != nil {
		return e.safetyFailed(ctx, symbol, fmt.Errorf("failed to cancel resting orders: %w", err))
	}

	levels := risk.ProtectionLevels(pos.EntryPrice, rec.ATRAtEntry, pos.Side, e.params.Protection)
	closeSide := trading.OrderSide(pos.Side.Opposite())

	stop := &trading.Order{
		Symbol:        symbol,
		Side:          closeSide,
		Amount:        pos.Contracts,
		StopPrice:     levels.StopLoss,
		OrderType:     trading.OrderTypeStopMarket,
		ClosePosition: true,
		ClientOrderID: clientOrderID("sl"),
	}
	if err := e.exchange.PlaceOrder(ctx, stop); err != nil {
		metrics.Orders.WithLabelValues("stop_loss", "error").Inc()
		return e.safetyFailed(ctx, symbol, fmt.Errorf("failed to place stop loss: %w", err))
	}
	metrics.Orders.WithLabelValues("stop_loss", "ok").Inc()

	target := &trading.Order{
		Symbol:        symbol,
		Side:          closeSide,
		Amount:        pos.Contracts,
		StopPrice:     levels.TakeProfit,
		OrderType:     trading.OrderTypeTakeProfitMarket,
		ClosePosition: true,
		ClientOrderID: clientOrderID("tp"),
	}
	if err := e.exchange.PlaceOrder(ctx, target); err != nil {
		metrics.Orders.WithLabelValues("take_profit", "error").Inc()
		return e.safetyFailed(ctx, symbol, fmt.Errorf("failed to place take profit: %w", err))
	}
	metrics.Orders.WithLabelValues("take_profit", "ok").Inc()

	rec.Status = models.StatusSecured
	e.put(ctx, rec, from)
	metrics.SafetyInstalls.WithLabelValues("ok").Inc()

	e.record(ctx, models.TradeRecord{
		Symbol:      symbol,
		Side:        pos.Side,
		OrderType:   trading.OrderTypeStopMarket + "+" + trading.OrderTypeTakeProfitMarket,
		Quantity:    pos.Contracts,
		Price:       pos.EntryPrice,
		Event:       ledgerSafety,
		StrategyTag: rec.StrategyTag,
		OrderID:     stop.OrderID + "/" + target.OrderID,
		CreatedAt:   e.now(),
	})

	e.logger.Info("position secured",
		"symbol", symbol,
		"side", pos.Side,
		"entry", pos.EntryPrice,
		"stop_loss", levels.StopLoss,
		"take_profit", levels.TakeProfit,
		"atr", rec.ATRAtEntry,
	)
	e.send(ctx, fmt.Sprintf("%s %s secured: entry %.4f SL %.4f TP %.4f",
		symbol, pos.Side, pos.EntryPrice, levels.StopLoss, levels.TakeProfit), false)
	return nil
}

func (e *Executor) safetyFailed(ctx context.Context, symbol string, err error) error {
	metrics.SafetyInstalls.WithLabelValues("error").Inc()
	e.logger.Error("safety orders not installed, retrying next tick", "symbol", symbol, "error", err)
	e.send(ctx, fmt.Sprintf("%s position UNPROTECTED: %v", symbol, err), true)
	return err
}
