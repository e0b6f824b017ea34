package models

import "time"

// Side 持仓/下单方向
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether s is LONG or SHORT.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// OrderType 入场订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// PositionSnapshot mirrors what the exchange reports for one symbol.
// It is never authoritative over the exchange.
type PositionSnapshot struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Contracts  float64 `json:"contracts"` // 绝对数量
}

// Open reports whether the position holds any contracts.
func (p PositionSnapshot) Open() bool {
	return p.Contracts > 0
}

// TradeRecord 交易流水
type TradeRecord struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	OrderType   string    `json:"order_type"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Event       string    `json:"event"` // entry, safety, closed
	StrategyTag string    `json:"strategy_tag"`
	OrderID     string    `json:"order_id"`
	CreatedAt   time.Time `json:"created_at"`
}
