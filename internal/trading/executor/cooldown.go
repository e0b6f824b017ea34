package executor

import (
	"sync"
	"time"
)

// Cooldowns maps symbol to the instant re-entry becomes possible again.
// Expired entries are evicted when checked; nothing sweeps them.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewCooldowns(now func() time.Time) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{
		until: make(map[string]time.Time),
		now:   now,
	}
}

// Set blocks entries for symbol during d.
func (c *Cooldowns) Set(symbol string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[symbol] = c.now().Add(d)
}

// Active reports whether symbol is still cooling down.
func (c *Cooldowns) Active(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.until[symbol]
	if !ok {
		return false
	}
	if !c.now().Before(until) {
		delete(c.until, symbol)
		return false
	}
	return true
}

// Len returns the number of stored entries, expired or not.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}
