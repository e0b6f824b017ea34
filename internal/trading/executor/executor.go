// Package executor owns entry placement, cooldowns and the per-symbol
// safety-order state machine:
//
//	NONE           --entry(limit)-->            WAITING_ENTRY
//	NONE           --entry(market)-->           PENDING_SAFETY
//	WAITING_ENTRY  --order gone, position-->    PENDING_SAFETY
//	WAITING_ENTRY  --order gone, flat/expired--> NONE
//	PENDING_SAFETY --SL+TP placed-->            SECURED
//	SECURED        --position closed-->         NONE
//
// Exchange state is authoritative. Every tracker mutation is persisted
// together with the in-memory change.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/notify"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/trading"
)

// Params 执行参数
type Params struct {
	LimitEntryTTL      time.Duration
	Cooldown           time.Duration
	PendingSafetyGrace time.Duration // PENDING_SAFETY without a position is dropped after this
	IsolatedMargin     bool
	Protection         risk.ProtectionParams
}

// EntryRequest describes one entry decided upstream.
type EntryRequest struct {
	Symbol   string
	Side     models.Side
	Type     models.OrderType
	Price    float64 // limit price, or reference price for market orders
	Notional float64 // margin committed, before leverage
	Leverage int
	Tag      string
	ATR      float64
}

func (r EntryRequest) validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidEntry)
	case !r.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidEntry, r.Side)
	case r.Type != models.OrderTypeMarket && r.Type != models.OrderTypeLimit:
		return fmt.Errorf("%w: order type %q", ErrInvalidEntry, r.Type)
	case r.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidEntry, r.Price)
	case r.Notional <= 0:
		return fmt.Errorf("%w: notional %v", ErrInvalidEntry, r.Notional)
	case r.Leverage < 1:
		return fmt.Errorf("%w: leverage %d", ErrInvalidEntry, r.Leverage)
	}
	return nil
}

// Quantity is notional·leverage/price, unrounded.
func (r EntryRequest) Quantity() float64 {
	return r.Notional * float64(r.Leverage) / r.Price
}

type Option func(*Executor)

// WithLedger appends trade rows to l.
func WithLedger(l Ledger) Option {
	return func(e *Executor) { e.ledger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

type Executor struct {
	exchange trading.Exchange
	store    TrackerStore
	ledger   Ledger
	notifier notify.Sink
	logger   *slog.Logger
	params   Params
	now      func() time.Time

	// opMu serializes operations that talk to the exchange so one
	// symbol is never reconciled and entered at the same time
	opMu sync.Mutex

	mu        sync.Mutex // guards the maps below
	trackers  map[string]*models.TrackerRecord
	positions map[string]models.PositionSnapshot
	dirty     map[string]struct{} // symbols whose last write failed

	cooldowns *Cooldowns
	trigger   chan struct{}
}

func New(exchange trading.Exchange, store TrackerStore, notifier notify.Sink, params Params, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		exchange:  exchange,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		params:    params,
		now:       time.Now,
		trackers:  make(map[string]*models.TrackerRecord),
		positions: make(map[string]models.PositionSnapshot),
		dirty:     make(map[string]struct{}),
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cooldowns = NewCooldowns(e.now)
	return e
}

// Restore loads persisted trackers. Call once before Run.
func (e *Executor) Restore(ctx context.Context) error {
	records, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trackers: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		r := rec
		e.trackers[rec.Symbol] = &r
	}
	e.logger.Info("trackers restored", "count", len(records))
	return nil
}

// ExecuteEntry places an entry order and starts tracking the symbol.
func (e *Executor) ExecuteEntry(ctx context.Context, req EntryRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if e.IsUnderCooldown(req.Symbol) {
		e.logger.Debug("entry skipped, cooldown active", "symbol", req.Symbol)
		return ErrCooldownActive
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if rec, ok := e.tracker(req.Symbol); ok {
		e.logger.Debug("entry skipped, symbol tracked", "symbol", req.Symbol, "status", rec.Status)
		return ErrAlreadyTracked
	}

	e.bestEffort(req.Symbol, "set margin type", e.exchange.SetMarginType(ctx, req.Symbol, e.params.IsolatedMargin))
	e.bestEffort(req.Symbol, "set leverage", e.exchange.SetLeverage(ctx, req.Symbol, req.Leverage))

	order := &trading.Order{
		Symbol:        req.Symbol,
		Side:          trading.OrderSide(req.Side),
		Amount:        req.Quantity(),
		OrderType:     string(req.Type),
		ClientOrderID: clientOrderID("en"),
	}
	if req.Type == models.OrderTypeLimit {
		order.Price = req.Price
	}

	if err := e.exchange.PlaceOrder(ctx, order); err != nil {
		metrics.Orders.WithLabelValues("entry", "error").Inc()
		e.logger.Error("entry order failed", "symbol", req.Symbol, "side", req.Side, "type", req.Type, "error", err)
		e.send(ctx, fmt.Sprintf("%s %s %s entry failed: %v", req.Symbol, req.Side, req.Type, err), true)
		return fmt.Errorf("failed to place entry order: %w", err)
	}
	metrics.Orders.WithLabelValues("entry", "ok").Inc()

	now := e.now()
	rec := models.TrackerRecord{
		Symbol:       req.Symbol,
		Side:         req.Side,
		EntryOrderID: order.OrderID,
		CreatedAt:    now,
		StrategyTag:  req.Tag,
		ATRAtEntry:   req.ATR,
	}
	if req.Type == models.OrderTypeLimit {
		rec.Status = models.StatusWaitingEntry
		expires := now.Add(e.params.LimitEntryTTL)
		rec.ExpiresAt = &expires
	} else {
		rec.Status = models.StatusPendingSafety
	}

	e.put(ctx, rec, models.StatusNone)
	e.SetCooldown(req.Symbol, e.params.Cooldown)

	e.record(ctx, models.TradeRecord{
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   string(req.Type),
		Quantity:    order.Amount,
		Price:       req.Price,
		Event:       ledgerEntry,
		StrategyTag: req.Tag,
		OrderID:     order.OrderID,
		CreatedAt:   now,
	})

	e.logger.Info("entry placed",
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"quantity", order.Amount,
		"price", req.Price,
		"order_id", order.OrderID,
		"status", rec.Status,
	)
	e.send(ctx, fmt.Sprintf("%s %s %s entry placed (qty %.6f @ %.4f, tag %s) → %s",
		req.Symbol, req.Side, req.Type, order.Amount, req.Price, req.Tag, rec.Status), false)
	return nil
}

// SetCooldown blocks entries for symbol during d.
func (e *Executor) SetCooldown(symbol string, d time.Duration) {
	e.cooldowns.Set(symbol, d)
}

// IsUnderCooldown reports whether entries for symbol are blocked.
func (e *Executor) IsUnderCooldown(symbol string) bool {
	return e.cooldowns.Active(symbol)
}

// Trackers returns a copy of every live tracker, sorted by symbol.
func (e *Executor) Trackers() []models.TrackerRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.TrackerRecord, 0, len(e.trackers))
	for _, rec := range e.trackers {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Tracker returns the live record for symbol.
func (e *Executor) Tracker(symbol string) (models.TrackerRecord, bool) {
	return e.tracker(symbol)
}

// Position returns the cached exchange position for symbol.
func (e *Executor) Position(symbol string) (models.PositionSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	return pos, ok && pos.Open()
}

func (e *Executor) tracker(symbol string) (models.TrackerRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.trackers[symbol]
	if !ok {
		return models.TrackerRecord{}, false
	}
	return *rec, true
}

// put stores rec and persists it together with any earlier failed writes.
func (e *Executor) put(ctx context.Context, rec models.TrackerRecord, from models.TrackerStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := rec
	e.trackers[rec.Symbol] = &r
	e.dirty[rec.Symbol] = struct{}{}
	e.flushLocked(ctx)

	if from != rec.Status {
		metrics.TrackerTransitions.WithLabelValues(string(from), string(rec.Status)).Inc()
	}
}

// remove deletes the tracker for symbol and persists the deletion.
func (e *Executor) remove(ctx context.Context, symbol string, from models.TrackerStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.trackers, symbol)
	e.dirty[symbol] = struct{}{}
	e.flushLocked(ctx)

	metrics.TrackerTransitions.WithLabelValues(string(from), string(models.StatusNone)).Inc()
}

func (e *Executor) flushLocked(ctx context.Context) {
	for symbol := range e.dirty {
		var err error
		if rec, ok := e.trackers[symbol]; ok {
			err = e.store.Put(ctx, *rec)
		} else {
			err = e.store.Delete(ctx, symbol)
		}
		if err != nil {
			metrics.PersistFailures.Inc()
			e.logger.Error("failed to persist tracker, will retry", "symbol", symbol, "error", err)
			continue
		}
		delete(e.dirty, symbol)
	}
}

// PendingWrites returns the symbols whose last persist failed.
func (e *Executor) PendingWrites() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.dirty))
	for symbol := range e.dirty {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (e *Executor) bestEffort(symbol, op string, err error) {
	if err != nil {
		e.logger.Warn("optional exchange call failed", "symbol", symbol, "op", op, "error", err)
	}
}

func (e *Executor) send(ctx context.Context, message string, alert bool) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, message, alert); err != nil {
		e.logger.Warn("failed to send notification", "error", err)
	}
}

func (e *Executor) record(ctx context.Context, trade models.TradeRecord) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.RecordTrade(ctx, trade); err != nil {
		e.logger.Error("failed to record trade", "symbol", trade.Symbol, "event", trade.Event, "error", err)
	}
}

// clientOrderID returns a Binance-compatible (≤36 chars) client order id.
func clientOrderID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
