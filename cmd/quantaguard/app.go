package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/songzhibin97/quantaguard/internal/ai"
	"github.com/songzhibin97/quantaguard/internal/configs"
	"github.com/songzhibin97/quantaguard/internal/data"
	"github.com/songzhibin97/quantaguard/internal/data/market"
	"github.com/songzhibin97/quantaguard/internal/data/stream"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/notify"
	"github.com/songzhibin97/quantaguard/internal/trading"
	"github.com/songzhibin97/quantaguard/internal/trading/executor"
)

// notionalSizer is satisfied by *risk.Sizer.
type notionalSizer interface {
	Notional(ctx context.Context) (float64, bool)
}

// historyLoader warms up exchange precision before orders are sent.
type historyLoader interface {
	trading.Exchange
	LoadExchangeInfo(ctx context.Context) error
}

// QuantGuard owns every long-lived component of the process.
type QuantGuard struct {
	config    *configs.Config
	logger    *slog.Logger
	exchange  historyLoader
	market    *market.Store
	executor  *executor.Executor
	ingestor  *stream.Ingestor
	refresher data.Refresher
	signals   ai.SignalSource
	sizer     notionalSizer
	notifier  notify.Sink
}

// Run 运行系统, blocks until ctx is cancelled.
func (s *QuantGuard) Run(ctx context.Context) error {
	if err := s.exchange.LoadExchangeInfo(ctx); err != nil {
		return fmt.Errorf("failed to load exchange info: %w", err)
	}
	s.logger.Debug("exchange info loaded")

	if err := s.loadHistory(ctx); err != nil {
		return err
	}
	s.logger.Debug("history loaded")

	if err := s.executor.Restore(ctx); err != nil {
		return err
	}
	if err := s.executor.Reconcile(ctx); err != nil {
		s.logger.Error("initial reconcile failed", "err", err)
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			s.logger.Debug("task stopped", "task", name)
		}()
	}

	spawn("stream", func(ctx context.Context) { _ = s.ingestor.Run(ctx) })
	spawn("keepalive", s.ingestor.RunKeepAlive)
	spawn("refresher", func(ctx context.Context) { s.ingestor.RunRefresher(ctx, s.refresher) })
	spawn("reconciler", func(ctx context.Context) { s.executor.Run(ctx, s.config.ReconcileInterval()) })
	spawn("decisions", s.runDecisions)
	if s.config.MetricsAddr != "" {
		spawn("metrics", s.serveMetrics)
	}

	_ = s.notifier.Send(ctx, fmt.Sprintf("quantaguard started: %d symbols", len(s.config.Symbols)), false)

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// loadHistory seeds every series from REST before the stream starts.
func (s *QuantGuard) loadHistory(ctx context.Context) error {
	cfg := s.market.Config()
	for _, symbol := range s.config.Symbols {
		for _, tf := range []string{cfg.PrimaryTimeframe, cfg.TrendTimeframe} {
			candles, err := s.exchange.GetKlines(ctx, symbol, tf, cfg.Capacity)
			if err != nil {
				return fmt.Errorf("failed to load %s %s history: %w", symbol, tf, err)
			}
			s.market.LoadHistory(symbol, tf, candles)
			s.logger.Debug("history loaded", "symbol", symbol, "timeframe", tf, "candles", len(candles))
		}
	}
	return nil
}

func (s *QuantGuard) runDecisions(ctx context.Context) {
	ticker := time.NewTicker(s.config.DecisionInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range s.config.Symbols {
				if ctx.Err() != nil {
					return
				}
				if err := s.decide(ctx, symbol); err != nil {
					s.logger.Error("decision failed", "symbol", symbol, "err", err)
				}
			}
		}
	}
}

// decide runs one decision for symbol. A nil error with no entry means the
// cycle was skipped.
func (s *QuantGuard) decide(ctx context.Context, symbol string) error {
	if s.executor.IsUnderCooldown(symbol) {
		return nil
	}
	if _, tracked := s.executor.Tracker(symbol); tracked {
		return nil
	}

	snapshot, ok := s.market.TechnicalSnapshot(symbol)
	if !ok {
		s.logger.Debug("not enough history", "symbol", symbol)
		return nil
	}

	decision, err := s.signals.Decide(ctx, snapshot)
	if err != nil {
		return err
	}

	side, ok := decision.Side()
	if !ok {
		return nil
	}
	if decision.Confidence < s.config.AIConfig.MinConfidence {
		s.logger.Debug("decision below confidence", "symbol", symbol, "confidence", decision.Confidence)
		return nil
	}

	for _, rec := range s.executor.Trackers() {
		corr := s.market.Correlation(symbol, rec.Symbol, s.config.AIConfig.CorrelationPeriod)
		if corr >= s.config.AIConfig.MaxCorrelation {
			s.logger.Info("entry skipped, correlated with open exposure",
				"symbol", symbol, "other", rec.Symbol, "correlation", corr)
			return nil
		}
	}

	notional, ok := s.sizer.Notional(ctx)
	if !ok {
		return nil
	}

	orderType, price := models.OrderTypeMarket, snapshot.Close
	if decision.OrderType == models.OrderTypeLimit {
		orderType, price = models.OrderTypeLimit, decision.EntryPrice
	}

	err = s.executor.ExecuteEntry(ctx, executor.EntryRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     orderType,
		Price:    price,
		Notional: notional,
		Leverage: s.config.TradingConfig.Leverage,
		Tag:      "ai",
		ATR:      snapshot.ATR,
	})
	switch {
	case err == nil:
		s.logger.Info("entry executed", "symbol", symbol, "side", side, "confidence", decision.Confidence, "reason", decision.Reason)
		return nil
	case errors.Is(err, trading.ErrRejected):
		// identical parameters would be rejected again
		s.executor.SetCooldown(symbol, s.config.ExecutorParams().Cooldown)
		return err
	case errors.Is(err, executor.ErrCooldownActive), errors.Is(err, executor.ErrAlreadyTracked):
		return nil
	default:
		return err
	}
}

func (s *QuantGuard) onWhale(ev *models.LargeTradeEvent) {
	s.logger.Info("large trade", "symbol", ev.Symbol, "side", ev.Side, "price", ev.Price, "quantity", ev.Quantity, "notional", ev.Notional())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := fmt.Sprintf("🐋 %s %s %.3f @ %.4f (%.0f USDT)", ev.Symbol, ev.Side, ev.Quantity, ev.Price, ev.Notional())
	if err := s.notifier.Send(ctx, msg, false); err != nil {
		s.logger.Warn("failed to send whale alert", "err", err)
	}
}

func (s *QuantGuard) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		last := s.ingestor.LastHeartbeat()
		if last.IsZero() {
			http.Error(w, "no stream data yet", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "last frame %s ago\n", time.Since(last).Round(time.Millisecond))
	})

	srv := &http.Server{
		Addr:              s.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("metrics server listening", "addr", s.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics server failed", "err", err)
	}
}
