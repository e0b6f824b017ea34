package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
)

var (
	// ErrSessionExpired is reported when the exchange invalidates the listen key
	ErrSessionExpired = errors.New("stream session expired")
	// ErrUnknownEvent marks a well-formed message of a type the engine ignores
	ErrUnknownEvent = errors.New("unknown stream event")
)

// Binance keys differ only by case ("e"/"E", "s"/"S", "t"/"T"); encoding/json
// matches case-insensitively, so every colliding key is declared explicitly.

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type eventHeader struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

type wsKline struct {
	OpenTime    int64  `json:"t"`
	CloseTime   int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	LastTradeID int64  `json:"L"`
	Volume      string `json:"v"`
	TakerVolume string `json:"V"`
	QuoteVolume string `json:"q"`
	TakerQuote  string `json:"Q"`
	Closed      bool   `json:"x"`
}

type wsKlineEvent struct {
	eventHeader
	Symbol string  `json:"s"`
	Kline  wsKline `json:"k"`
}

type wsAggTradeEvent struct {
	eventHeader
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	Maker     bool   `json:"m"` // buyer is maker: the aggressor sold
}

type wsPosition struct {
	Symbol     string `json:"s"`
	Amount     string `json:"pa"`
	EntryPrice string `json:"ep"`
}

type wsAccountUpdateEvent struct {
	eventHeader
	TransactionTime int64 `json:"T"`
	Update          struct {
		Reason    string       `json:"m"`
		Positions []wsPosition `json:"P"`
	} `json:"a"`
}

type wsOrder struct {
	Symbol        string `json:"s"`
	Side          string `json:"S"`
	ClientOrderID string `json:"c"`
	Type          string `json:"o"`
	ExecutionType string `json:"x"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	TradeTime     int64  `json:"T"`
	TradeID       int64  `json:"t"`
}

type wsOrderUpdateEvent struct {
	eventHeader
	TransactionTime int64   `json:"T"`
	Order           wsOrder `json:"o"`
}

// ParseMessage decodes one combined-stream frame into a typed event.
// A bare payload without the {"stream","data"} envelope is accepted too.
func ParseMessage(raw []byte) (models.StreamEvent, error) {
	var envelope combinedMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	payload := []byte(envelope.Data)
	if len(payload) == 0 {
		payload = raw
	}

	var header eventHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, fmt.Errorf("failed to decode event header: %w", err)
	}

	switch header.Event {
	case "kline":
		return parseKline(payload)
	case "aggTrade":
		return parseAggTrade(payload)
	case "ACCOUNT_UPDATE":
		return parseAccountUpdate(payload)
	case "ORDER_TRADE_UPDATE":
		return parseOrderUpdate(payload)
	case "listenKeyExpired":
		return nil, ErrSessionExpired
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, header.Event)
	}
}

func parseKline(payload []byte) (*models.KlineEvent, error) {
	var ev wsKlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode kline: %w", err)
	}

	k := ev.Kline
	if ev.Symbol == "" || k.Interval == "" || k.OpenTime == 0 {
		return nil, fmt.Errorf("incomplete kline event")
	}

	var values [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kline value %q: %w", s, err)
		}
		values[i] = v
	}

	return &models.KlineEvent{
		Symbol:    ev.Symbol,
		Timeframe: k.Interval,
		Candle: models.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     values[0],
			High:     values[1],
			Low:      values[2],
			Close:    values[3],
			Volume:   values[4],
			Closed:   k.Closed,
		},
	}, nil
}

func parseAggTrade(payload []byte) (*models.LargeTradeEvent, error) {
	var ev wsAggTradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode trade: %w", err)
	}

	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trade price: %w", err)
	}
	qty, err := strconv.ParseFloat(ev.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trade quantity: %w", err)
	}

	side := models.SideLong
	if ev.Maker {
		side = models.SideShort
	}

	return &models.LargeTradeEvent{
		Symbol:   ev.Symbol,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Time:     time.UnixMilli(ev.TradeTime),
	}, nil
}

func parseAccountUpdate(payload []byte) (*models.AccountEvent, error) {
	var ev wsAccountUpdateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode account update: %w", err)
	}

	out := &models.AccountEvent{
		Reason: ev.Update.Reason,
		Time:   time.UnixMilli(ev.TransactionTime),
	}
	for _, p := range ev.Update.Positions {
		amount, err := strconv.ParseFloat(p.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse position amount: %w", err)
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		out.Positions = append(out.Positions, models.AccountPosition{
			Symbol:     p.Symbol,
			Amount:     amount,
			EntryPrice: entry,
		})
	}
	return out, nil
}

func parseOrderUpdate(payload []byte) (*models.OrderEvent, error) {
	var ev wsOrderUpdateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode order update: %w", err)
	}
	if ev.Order.Symbol == "" {
		return nil, fmt.Errorf("incomplete order update")
	}

	return &models.OrderEvent{
		Symbol:        ev.Order.Symbol,
		OrderID:       strconv.FormatInt(ev.Order.OrderID, 10),
		ClientOrderID: ev.Order.ClientOrderID,
		Side:          ev.Order.Side,
		OrderType:     ev.Order.Type,
		ExecutionType: ev.Order.ExecutionType,
		Status:        ev.Order.Status,
		Time:          time.UnixMilli(ev.TransactionTime),
	}, nil
}
