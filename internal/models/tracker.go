package models

import "time"

// TrackerStatus is the per-symbol order lifecycle state.
// NONE is never stored: it is the absence of a record.
type TrackerStatus string

const (
	StatusNone          TrackerStatus = "NONE"
	StatusWaitingEntry  TrackerStatus = "WAITING_ENTRY"
	StatusPendingSafety TrackerStatus = "PENDING_SAFETY"
	StatusSecured       TrackerStatus = "SECURED"
)

// TrackerRecord is the durable "what is this symbol doing right now" record.
type TrackerRecord struct {
	Symbol       string        `json:"symbol"`
	Status       TrackerStatus `json:"status"`
	Side         Side          `json:"side"`
	EntryOrderID string        `json:"entry_order_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	StrategyTag  string        `json:"strategy_tag"`
	ATRAtEntry   float64       `json:"atr_value_at_entry"`
}

// Expired reports whether a resting entry passed its deadline.
func (r TrackerRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}
