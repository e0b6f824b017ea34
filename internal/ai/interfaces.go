package ai

import (
	"context"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// SignalSource turns an indicator snapshot into a trade decision
type SignalSource interface {
	Decide(ctx context.Context, snapshot *models.TechnicalSnapshot) (*Decision, error)
}

// Action 决策动作
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionWait Action = "WAIT"
)

// Decision 决策结果
type Decision struct {
	Symbol     string           `json:"symbol"`
	Action     Action           `json:"action"`
	Confidence float64          `json:"confidence"` // 0..1
	OrderType  models.OrderType `json:"order_type"`
	EntryPrice float64          `json:"entry_price"` // limit price, 0 for market
	Reason     string           `json:"reason"`
}

// Side maps BUY/SELL to the position side; WAIT has none.
func (d *Decision) Side() (models.Side, bool) {
	switch d.Action {
	case ActionBuy:
		return models.SideLong, true
	case ActionSell:
		return models.SideShort, true
	default:
		return "", false
	}
}

// Validate rejects decisions the executor could not act on.
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionBuy, ActionSell, ActionWait:
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence out of range: %v", d.Confidence)
	}
	switch d.OrderType {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if d.Action != ActionWait && d.EntryPrice <= 0 {
			return fmt.Errorf("limit decision without entry price")
		}
	default:
		return fmt.Errorf("unknown order type %q", d.OrderType)
	}
	return nil
}
