package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// whaleFilter drops repeats of the same {side, symbol, size} inside window.
type whaleFilter struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newWhaleFilter(window time.Duration) *whaleFilter {
	return &whaleFilter{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

func whaleKey(ev *models.LargeTradeEvent) string {
	return fmt.Sprintf("%s|%s|%.3f", ev.Side, ev.Symbol, ev.Quantity)
}

func (f *whaleFilter) allow(ev *models.LargeTradeEvent, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for k, t := range f.seen {
		if now.Sub(t) >= f.window {
			delete(f.seen, k)
		}
	}

	key := whaleKey(ev)
	if _, dup := f.seen[key]; dup {
		return false
	}
	f.seen[key] = now
	return true
}
