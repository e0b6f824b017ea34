package executor

import (
	"context"
	"errors"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// TrackerStore persists one TrackerRecord per symbol. Put writes the full
// record atomically; a partially written record must never be visible.
type TrackerStore interface {
	Load(ctx context.Context) ([]models.TrackerRecord, error)
	Put(ctx context.Context, record models.TrackerRecord) error
	Delete(ctx context.Context, symbol string) error
}

// Ledger receives an append-only trade history.
type Ledger interface {
	RecordTrade(ctx context.Context, trade models.TradeRecord) error
}

var (
	// ErrCooldownActive is returned by ExecuteEntry while the symbol is cooling down
	ErrCooldownActive = errors.New("symbol under cooldown")
	// ErrAlreadyTracked is returned by ExecuteEntry when the symbol already has a live tracker
	ErrAlreadyTracked = errors.New("symbol already tracked")
	// ErrInvalidEntry marks an entry request that cannot be priced
	ErrInvalidEntry = errors.New("invalid entry request")
)

// TagExternal marks trackers created for positions opened outside the engine.
const TagExternal = "external"

const (
	ledgerEntry  = "entry"
	ledgerSafety = "safety"
	ledgerClosed = "closed"
)
