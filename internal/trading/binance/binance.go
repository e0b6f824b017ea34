package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/trading"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// codeNoNeedToChangeMarginType is returned when the margin type is already set.
const codeNoNeedToChangeMarginType = -4046

// transient API codes: rate limits, clock skew, upstream timeouts
var transientCodes = map[int64]bool{
	-1000: true,
	-1001: true,
	-1003: true,
	-1007: true,
	-1008: true,
	-1021: true,
}

// BinanceExecutor implements trading.Exchange for Binance USDⓈ-M futures
type BinanceExecutor struct {
	client    *futures.Client
	apiKey    string
	secretKey string

	mu      sync.RWMutex
	filters map[string]symbolFilters
}

// NewBinanceExecutor creates a new BinanceExecutor instance
func NewBinanceExecutor(apiKey, secretKey string, debug ...bool) *BinanceExecutor {
	debug = append(debug, false)
	if debug[0] {
		futures.UseTestnet = true
	}

	client := binance.NewFuturesClient(apiKey, secretKey)

	return &BinanceExecutor{
		client:    client,
		apiKey:    apiKey,
		secretKey: secretKey,
		filters:   make(map[string]symbolFilters),
	}
}

// GetKlines implements kline history retrieval
func (b *BinanceExecutor) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", classify(err))
	}

	nowMs := time.Now().UnixMilli()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseKline(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kline: %w", err)
		}
		c.Closed = k.CloseTime < nowMs
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKline(openTime int64, values ...string) (models.Candle, error) {
	parsed := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return models.Candle{}, err
		}
		parsed[i] = f
	}
	return models.Candle{
		OpenTime: time.UnixMilli(openTime).UTC(),
		Open:     parsed[0],
		High:     parsed[1],
		Low:      parsed[2],
		Close:    parsed[3],
		Volume:   parsed[4],
	}, nil
}

// GetBalance implements balance retrieval for Binance futures
func (b *BinanceExecutor) GetBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", classify(err))
	}

	for _, balance := range balances {
		if balance.Asset == asset {
			available, err := strconv.ParseFloat(balance.AvailableBalance, 64)
			if err != nil {
				return 0, fmt.Errorf("failed to parse balance: %w", err)
			}
			return available, nil
		}
	}

	return 0, fmt.Errorf("balance not found for asset: %s", asset)
}

// GetPositions implements position retrieval (one-way mode)
func (b *BinanceExecutor) GetPositions(ctx context.Context) ([]models.PositionSnapshot, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", classify(err))
	}

	positions := make([]models.PositionSnapshot, 0, len(risks))
	for _, p := range risks {
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse position amount for %s: %w", p.Symbol, err)
		}
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)

		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
			amt = -amt
		}
		positions = append(positions, models.PositionSnapshot{
			Symbol:     p.Symbol,
			Side:       side,
			EntryPrice: entry,
			Contracts:  amt,
		})
	}
	return positions, nil
}

// GetOpenOrders lists resting orders of all symbols in a single request
func (b *BinanceExecutor) GetOpenOrders(ctx context.Context) ([]trading.Order, error) {
	orders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", classify(err))
	}

	result := make([]trading.Order, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		amount, _ := strconv.ParseFloat(o.OrigQuantity, 64)

		result = append(result, trading.Order{
			Symbol:        o.Symbol,
			Side:          strings.ToLower(string(o.Side)),
			Amount:        amount,
			Price:         price,
			StopPrice:     stopPrice,
			OrderType:     strings.ToLower(string(o.Type)),
			ReduceOnly:    o.ReduceOnly,
			ClosePosition: o.ClosePosition,
			Status:        string(o.Status),
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			RawOrderID:    o.OrderID,
		})
	}
	return result, nil
}

// PlaceOrder implements order placement for Binance futures
func (b *BinanceExecutor) PlaceOrder(ctx context.Context, order *trading.Order) error {
	var side futures.SideType
	switch order.Side {
	case trading.SideBuy:
		side = futures.SideTypeBuy
	case trading.SideSell:
		side = futures.SideTypeSell
	default:
		return fmt.Errorf("invalid side: %s", order.Side)
	}

	orderService := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side)

	if order.ClientOrderID != "" {
		orderService.NewClientOrderID(order.ClientOrderID)
	}

	switch order.OrderType {
	case trading.OrderTypeMarket:
		orderService.Type(futures.OrderTypeMarket).
			Quantity(b.FormatQuantity(order.Symbol, order.Amount))
	case trading.OrderTypeLimit:
		orderService.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(b.FormatPrice(order.Symbol, order.Price)).
			Quantity(b.FormatQuantity(order.Symbol, order.Amount))
	case trading.OrderTypeStopMarket, trading.OrderTypeTakeProfitMarket:
		orderType := futures.OrderTypeStopMarket
		if order.OrderType == trading.OrderTypeTakeProfitMarket {
			orderType = futures.OrderTypeTakeProfitMarket
		}
		orderService.Type(orderType).
			StopPrice(b.FormatPrice(order.Symbol, order.StopPrice)).
			WorkingType(futures.WorkingTypeMarkPrice)
		if order.ClosePosition {
			orderService.ClosePosition(true)
		} else {
			orderService.Quantity(b.FormatQuantity(order.Symbol, order.Amount))
		}
	default:
		return fmt.Errorf("unsupported order type: %s", order.OrderType)
	}

	if order.ReduceOnly && !order.ClosePosition {
		orderService.ReduceOnly(true)
	}

	result, err := orderService.Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to place order: %w", classify(err))
	}

	order.Status = string(result.Status)
	order.RawOrderID = result.OrderID
	order.OrderID = strconv.FormatInt(result.OrderID, 10)
	if result.ClientOrderID != "" {
		order.ClientOrderID = result.ClientOrderID
	}
	return nil
}

// CancelOrder implements order cancellation for Binance futures
func (b *BinanceExecutor) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order ID: %w", err)
	}

	_, err = b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", classify(err))
	}
	return nil
}

// CancelAllOrders cancels every resting order of symbol
func (b *BinanceExecutor) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("failed to cancel open orders: %w", classify(err))
	}
	return nil
}

// SetLeverage changes the initial leverage of symbol
func (b *BinanceExecutor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to change leverage: %w", classify(err))
	}
	return nil
}

// SetMarginType switches the margin mode; "already set" is not an error
func (b *BinanceExecutor) SetMarginType(ctx context.Context, symbol string, isolated bool) error {
	marginType := futures.MarginTypeCrossed
	if isolated {
		marginType = futures.MarginTypeIsolated
	}

	err := b.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeNoNeedToChangeMarginType {
			return nil
		}
		return fmt.Errorf("failed to change margin type: %w", classify(err))
	}
	return nil
}

// StartSession creates a user-data listen key
func (b *BinanceExecutor) StartSession(ctx context.Context) (string, error) {
	key, err := b.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start user stream: %w", classify(err))
	}
	return key, nil
}

// KeepAliveSession extends the validity of a listen key
func (b *BinanceExecutor) KeepAliveSession(ctx context.Context, key string) error {
	if err := b.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
		return fmt.Errorf("failed to keep alive user stream: %w", classify(err))
	}
	return nil
}

// classify turns definitive API errors into trading.RejectedError.
func classify(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || transientCodes[apiErr.Code] {
		return err
	}
	return &trading.RejectedError{Code: apiErr.Code, Message: apiErr.Message}
}
