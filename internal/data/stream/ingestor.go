// Package stream owns the exchange websocket session: one combined stream
// carrying klines, aggregated trades and the private user-data channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/songzhibin97/quantaguard/internal/data"
	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
)

// SessionProvider issues and renews the user-data session token.
type SessionProvider interface {
	StartSession(ctx context.Context) (string, error)
	KeepAliveSession(ctx context.Context, key string) error
}

type Config struct {
	BaseURL           string // e.g. wss://fstream.binance.com
	Symbols           []string
	Timeframes        []string
	ReconnectDelay    time.Duration
	KeepAliveInterval time.Duration
	RefreshInterval   time.Duration
	ReadTimeout       time.Duration // 0 disables the read deadline
	WhaleNotional     float64
	WhaleWindow       time.Duration
}

func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "wss://fstream.binance.com"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 30 * time.Minute
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.WhaleWindow <= 0 {
		c.WhaleWindow = 5 * time.Second
	}
}

type Option func(*Ingestor)

// WithWhaleHandler receives de-duplicated trades at or above WhaleNotional.
func WithWhaleHandler(fn func(*models.LargeTradeEvent)) Option {
	return func(i *Ingestor) { i.onWhale = fn }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(i *Ingestor) { i.dialer = d }
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

type Ingestor struct {
	cfg     Config
	session SessionProvider
	candles data.CandleSink
	user    data.UserEventHandler
	onWhale func(*models.LargeTradeEvent)
	logger  *slog.Logger
	dialer  *websocket.Dialer
	now     func() time.Time

	whales    *whaleFilter
	heartbeat atomic.Int64 // unix nanos of the last frame

	keyMu     sync.Mutex
	listenKey string
}

func NewIngestor(cfg Config, session SessionProvider, candles data.CandleSink, user data.UserEventHandler, logger *slog.Logger, opts ...Option) *Ingestor {
	cfg.SetDefaults()
	i := &Ingestor{
		cfg:     cfg,
		session: session,
		candles: candles,
		user:    user,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
		whales:  newWhaleFilter(cfg.WhaleWindow),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run keeps one stream session alive until ctx is cancelled. Any failure
// ends the session and a fresh one is opened after ReconnectDelay.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		err := i.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.StreamReconnects.Inc()
		i.logger.Warn("stream session ended, reconnecting", "error", err, "delay", i.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.cfg.ReconnectDelay):
		}
	}
}

func (i *Ingestor) runSession(ctx context.Context) error {
	key, err := i.session.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	i.setListenKey(key)

	url := i.URL(key)
	conn, _, err := i.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	i.logger.Info("stream connected", "symbols", len(i.cfg.Symbols), "timeframes", i.cfg.Timeframes)

	for {
		if i.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(i.now().Add(i.cfg.ReadTimeout)); err != nil {
				return fmt.Errorf("failed to set read deadline: %w", err)
			}
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}
		i.touch()

		if err := i.Dispatch(ctx, message); err != nil {
			return err
		}
	}
}

// URL builds the combined stream address for the given listen key.
func (i *Ingestor) URL(listenKey string) string {
	streams := make([]string, 0, len(i.cfg.Symbols)*(len(i.cfg.Timeframes)+1)+1)
	for _, symbol := range i.cfg.Symbols {
		s := strings.ToLower(symbol)
		for _, tf := range i.cfg.Timeframes {
			streams = append(streams, s+"@kline_"+tf)
		}
		streams = append(streams, s+"@aggTrade")
	}
	if listenKey != "" {
		streams = append(streams, listenKey)
	}
	return strings.TrimRight(i.cfg.BaseURL, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Dispatch routes one raw frame. Malformed and unknown frames are counted
// and dropped; only an expired session is returned as an error.
func (i *Ingestor) Dispatch(ctx context.Context, raw []byte) error {
	event, err := ParseMessage(raw)
	if errors.Is(err, ErrSessionExpired) {
		metrics.StreamMessages.WithLabelValues("session_expired").Inc()
		return err
	}
	if err != nil {
		metrics.StreamMessages.WithLabelValues("dropped").Inc()
		i.logger.Debug("dropping stream message", "error", err)
		return nil
	}

	switch ev := event.(type) {
	case *models.KlineEvent:
		metrics.StreamMessages.WithLabelValues("kline").Inc()
		if !i.candles.UpsertCandle(ev.Symbol, ev.Timeframe, ev.Candle) {
			i.logger.Debug("stale kline ignored", "symbol", ev.Symbol, "timeframe", ev.Timeframe, "open_time", ev.Candle.OpenTime)
		}

	case *models.LargeTradeEvent:
		metrics.StreamMessages.WithLabelValues("trade").Inc()
		if i.onWhale == nil || i.cfg.WhaleNotional <= 0 || ev.Notional() < i.cfg.WhaleNotional {
			return nil
		}
		if !i.whales.allow(ev, i.now()) {
			return nil
		}
		metrics.WhaleAlerts.WithLabelValues(string(ev.Side)).Inc()
		i.onWhale(ev)

	case *models.AccountEvent:
		metrics.StreamMessages.WithLabelValues("account").Inc()
		if i.user != nil {
			i.user.HandleUserEvent(ctx, ev)
		}

	case *models.OrderEvent:
		metrics.StreamMessages.WithLabelValues("order").Inc()
		if i.user != nil {
			i.user.HandleUserEvent(ctx, ev)
		}
	}
	return nil
}

// RunKeepAlive renews the current listen key on a fixed interval,
// regardless of stream health.
func (i *Ingestor) RunKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(i.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key := i.ListenKey()
			if key == "" {
				continue
			}
			if err := i.session.KeepAliveSession(ctx, key); err != nil {
				i.logger.Warn("failed to renew listen key", "error", err)
				continue
			}
			i.logger.Debug("listen key renewed")
		}
	}
}

// RunRefresher calls r immediately and then every RefreshInterval.
func (i *Ingestor) RunRefresher(ctx context.Context, r data.Refresher) {
	refresh := func() {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			i.logger.Warn("slow data refresh failed", "error", err)
		}
	}

	refresh()
	ticker := time.NewTicker(i.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// LastHeartbeat is the receive time of the latest frame, zero before the first.
func (i *Ingestor) LastHeartbeat() time.Time {
	n := i.heartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (i *Ingestor) ListenKey() string {
	i.keyMu.Lock()
	defer i.keyMu.Unlock()
	return i.listenKey
}

func (i *Ingestor) setListenKey(key string) {
	i.keyMu.Lock()
	defer i.keyMu.Unlock()
	i.listenKey = key
}

func (i *Ingestor) touch() {
	now := i.now()
	i.heartbeat.Store(now.UnixNano())
	metrics.StreamHeartbeat.Set(float64(now.Unix()))
}
