package models

import "time"

// StreamEvent is the closed set of messages produced by the stream parser:
// *KlineEvent, *LargeTradeEvent, *AccountEvent and *OrderEvent.
type StreamEvent interface {
	streamEvent()
	EventSymbol() string
}

// KlineEvent K线推送
type KlineEvent struct {
	Symbol    string
	Timeframe string
	Candle    Candle
}

// LargeTradeEvent 成交推送 (aggTrade)
type LargeTradeEvent struct {
	Symbol   string
	Side     Side // LONG 主动买, SHORT 主动卖
	Price    float64
	Quantity float64
	Time     time.Time
}

// Notional returns price × quantity.
func (e *LargeTradeEvent) Notional() float64 {
	return e.Price * e.Quantity
}

// AccountPosition is one position entry inside an ACCOUNT_UPDATE.
type AccountPosition struct {
	Symbol     string
	Amount     float64 // signed
	EntryPrice float64
}

// AccountEvent 账户更新
type AccountEvent struct {
	Reason    string
	Positions []AccountPosition
	Time      time.Time
}

// OrderEvent 订单更新
type OrderEvent struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Side          string
	OrderType     string
	ExecutionType string
	Status        string
	Time          time.Time
}

func (*KlineEvent) streamEvent()      {}
func (*LargeTradeEvent) streamEvent() {}
func (*AccountEvent) streamEvent()    {}
func (*OrderEvent) streamEvent()      {}

func (e *KlineEvent) EventSymbol() string      { return e.Symbol }
func (e *LargeTradeEvent) EventSymbol() string { return e.Symbol }
func (e *OrderEvent) EventSymbol() string      { return e.Symbol }

// EventSymbol returns the first symbol touched by the update, or "".
func (e *AccountEvent) EventSymbol() string {
	if len(e.Positions) == 0 {
		return ""
	}
	return e.Positions[0].Symbol
}
