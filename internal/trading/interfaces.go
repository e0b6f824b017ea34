package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// Exchange is the futures venue the engine trades against.
type Exchange interface {
	// GetKlines fetches OHLCV history, oldest first
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	// GetBalance retrieves the available balance of an asset
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetPositions returns every position with non-zero contracts
	GetPositions(ctx context.Context) ([]models.PositionSnapshot, error)

	// GetOpenOrders returns all resting orders across symbols in one call
	GetOpenOrders(ctx context.Context) ([]Order, error)

	// PlaceOrder places a new order; quantity and prices are rounded to
	// exchange precision here and nowhere else
	PlaceOrder(ctx context.Context, order *Order) error

	// CancelOrder cancels an existing order
	CancelOrder(ctx context.Context, symbol string, orderID string) error

	// CancelAllOrders cancels every resting order of a symbol
	CancelAllOrders(ctx context.Context, symbol string) error

	// SetLeverage changes the initial leverage of a symbol
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginType switches a symbol between isolated and cross margin
	SetMarginType(ctx context.Context, symbol string, isolated bool) error
}

const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket           = "market"
	OrderTypeLimit            = "limit"
	OrderTypeStopMarket       = "stop_market"
	OrderTypeTakeProfitMarket = "take_profit_market"
)

// Order 订单结构
type Order struct {
	Symbol        string  // 交易对
	Side          string  // buy 或 sell
	Amount        float64 // 数量
	Price         float64 // 价格（市价单可为0）
	StopPrice     float64 // 触发价（止损/止盈单）
	OrderType     string  // market, limit, stop_market, take_profit_market
	ReduceOnly    bool    // 只减仓
	ClosePosition bool    // 触发后全部平仓
	Status        string  // 订单状态
	OrderID       string  // 订单ID字符串格式
	ClientOrderID string  // 自定义订单ID
	RawOrderID    int64   // 订单ID数字格式
}

// OrderSide maps a position side to the order side that opens it.
func OrderSide(side models.Side) string {
	if side == models.SideShort {
		return SideSell
	}
	return SideBuy
}

// ErrRejected marks a definitive exchange rejection (bad parameters,
// insufficient margin). Resubmitting the same order will fail again.
var ErrRejected = errors.New("rejected by exchange")

// RejectedError carries the exchange's code for a rejection.
type RejectedError struct {
	Code    int64
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by exchange: code=%d, msg=%s", e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
