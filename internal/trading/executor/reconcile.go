package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/trading"
)

// SyncPositions refreshes the position cache and protects every open
// position that is not SECURED yet.
func (e *Executor) SyncPositions(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.refreshPositions(ctx); err != nil {
		return err
	}
	for _, symbol := range e.symbols() {
		e.protect(ctx, symbol)
	}
	return nil
}

// SyncPendingOrders classifies every WAITING_ENTRY tracker against a single
// open-orders snapshot and the cached positions.
func (e *Executor) SyncPendingOrders(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	open, err := e.openOrderIDs(ctx)
	if err != nil {
		return err
	}
	for _, symbol := range e.symbols() {
		e.classifyPending(ctx, symbol, open)
	}
	return nil
}

// Reconcile runs one tick: positions and open orders are fetched once, then
// each symbol is classified and protected in turn.
func (e *Executor) Reconcile(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.refreshPositions(ctx); err != nil {
		return err
	}
	open, err := e.openOrderIDs(ctx)
	if err != nil {
		return err
	}

	for _, symbol := range e.symbols() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.classifyPending(ctx, symbol, open)
		e.protect(ctx, symbol)
	}
	return nil
}

// HandleUserEvent requests an early reconcile for account and order updates
// that concern a tracked symbol or an open position.
func (e *Executor) HandleUserEvent(ctx context.Context, event models.StreamEvent) {
	relevant := false
	switch ev := event.(type) {
	case *models.OrderEvent:
		_, tracked := e.tracker(ev.Symbol)
		relevant = tracked || ev.Status == "FILLED"
	case *models.AccountEvent:
		for _, p := range ev.Positions {
			if _, tracked := e.tracker(p.Symbol); tracked || p.Amount != 0 {
				relevant = true
				break
			}
		}
	}
	if !relevant {
		return
	}

	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles every interval and whenever a user event asks for it.
func (e *Executor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("reconciler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
		case <-e.trigger:
		}

		if err := e.Reconcile(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("reconcile failed", "error", err)
		}
	}
}

func (e *Executor) refreshPositions(ctx context.Context) error {
	positions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		metrics.ReconcileErrors.WithLabelValues("positions").Inc()
		return fmt.Errorf("failed to get positions: %w", err)
	}
	e.replacePositions(positions)
	return nil
}

func (e *Executor) replacePositions(positions []models.PositionSnapshot) {
	cache := make(map[string]models.PositionSnapshot, len(positions))
	for _, p := range positions {
		if p.Open() {
			cache[p.Symbol] = p
		}
	}

	e.mu.Lock()
	e.positions = cache
	e.mu.Unlock()
}

func (e *Executor) openOrderIDs(ctx context.Context) (map[string]struct{}, error) {
	orders, err := e.exchange.GetOpenOrders(ctx)
	if err != nil {
		metrics.ReconcileErrors.WithLabelValues("open_orders").Inc()
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return indexOrders(orders), nil
}

func indexOrders(orders []trading.Order) map[string]struct{} {
	ids := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		ids[o.OrderID] = struct{}{}
	}
	return ids
}

// symbols returns tracked symbols plus symbols with an open position.
func (e *Executor) symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(e.trackers)+len(e.positions))
	for s := range e.trackers {
		seen[s] = struct{}{}
	}
	for s := range e.positions {
		seen[s] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// classifyPending resolves a WAITING_ENTRY tracker against the open orders.
func (e *Executor) classifyPending(ctx context.Context, symbol string, open map[string]struct{}) {
	rec, ok := e.tracker(symbol)
	if !ok || rec.Status != models.StatusWaitingEntry {
		return
	}
	_, resting := open[rec.EntryOrderID]
	_, filled := e.Position(symbol)

	switch {
	case resting && rec.Expired(e.now()):
		if err := e.exchange.CancelOrder(ctx, symbol, rec.EntryOrderID); err != nil {
			metrics.ReconcileErrors.WithLabelValues("cancel_expired").Inc()
			e.logger.Error("failed to cancel expired entry", "symbol", symbol, "order_id", rec.EntryOrderID, "error", err)
			return
		}
		if filled {
			// partially filled before expiry; protect what we have
			rec.Status = models.StatusPendingSafety
			rec.ExpiresAt = nil
			e.put(ctx, rec, models.StatusWaitingEntry)
			e.send(ctx, fmt.Sprintf("%s entry expired partially filled → %s", symbol, rec.Status), false)
			return
		}
		e.remove(ctx, symbol, models.StatusWaitingEntry)
		e.logger.Info("limit entry expired", "symbol", symbol, "order_id", rec.EntryOrderID)
		e.send(ctx, fmt.Sprintf("%s limit entry expired and cancelled", symbol), false)

	case resting:
		// still waiting

	case filled:
		rec.Status = models.StatusPendingSafety
		rec.ExpiresAt = nil
		e.put(ctx, rec, models.StatusWaitingEntry)
		e.logger.Info("limit entry filled", "symbol", symbol, "order_id", rec.EntryOrderID)
		e.send(ctx, fmt.Sprintf("%s %s limit entry filled → %s", symbol, rec.Side, rec.Status), false)

	default:
		e.remove(ctx, symbol, models.StatusWaitingEntry)
		e.logger.Info("limit entry gone without position", "symbol", symbol, "order_id", rec.EntryOrderID)
		e.send(ctx, fmt.Sprintf("%s limit entry cancelled without fill", symbol), false)
	}
}

// protect secures an open position or retires the tracker of a closed one.
func (e *Executor) protect(ctx context.Context, symbol string) {
	pos, open := e.Position(symbol)
	rec, tracked := e.tracker(symbol)

	switch {
	case open && (!tracked || rec.Status != models.StatusSecured):
		// errors are logged and alerted inside; next tick retries
		_ = e.installSafety(ctx, symbol, pos)

	case !open && tracked && rec.Status == models.StatusSecured:
		e.remove(ctx, symbol, rec.Status)
		e.record(ctx, models.TradeRecord{
			Symbol:      symbol,
			Side:        rec.Side,
			Event:       ledgerClosed,
			StrategyTag: rec.StrategyTag,
			OrderID:     rec.EntryOrderID,
			CreatedAt:   e.now(),
		})
		e.logger.Info("position closed", "symbol", symbol, "side", rec.Side)
		e.send(ctx, fmt.Sprintf("%s %s position closed", symbol, rec.Side), false)

	case !open && tracked && rec.Status == models.StatusPendingSafety:
		if e.now().Sub(rec.CreatedAt) < e.params.PendingSafetyGrace {
			return
		}
		e.remove(ctx, symbol, rec.Status)
		e.logger.Warn("pending safety without position, dropping tracker", "symbol", symbol, "created_at", rec.CreatedAt)
		e.send(ctx, fmt.Sprintf("%s entry never produced a position, tracker dropped", symbol), true)
	}
}
