package binance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

type symbolFilters struct {
	stepSize decimal.Decimal
	tickSize decimal.Decimal
}

// LoadExchangeInfo caches LOT_SIZE step and PRICE_FILTER tick per symbol.
func (b *BinanceExecutor) LoadExchangeInfo(ctx context.Context) error {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get exchange info: %w", classify(err))
	}

	filters := make(map[string]symbolFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		var f symbolFilters
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "LOT_SIZE":
				f.stepSize = decimalField(filter, "stepSize")
			case "PRICE_FILTER":
				f.tickSize = decimalField(filter, "tickSize")
			}
		}
		filters[s.Symbol] = f
	}

	b.mu.Lock()
	b.filters = filters
	b.mu.Unlock()
	return nil
}

func decimalField(filter map[string]interface{}, key string) decimal.Decimal {
	raw, ok := filter[key].(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (b *BinanceExecutor) symbolFilters(symbol string) (symbolFilters, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.filters[symbol]
	return f, ok
}

// FormatQuantity floors qty to the symbol's step size.
func (b *BinanceExecutor) FormatQuantity(symbol string, qty float64) string {
	f, ok := b.symbolFilters(symbol)
	if !ok || f.stepSize.IsZero() {
		return strconv.FormatFloat(qty, 'f', -1, 64)
	}
	return decimal.NewFromFloat(qty).Div(f.stepSize).Floor().Mul(f.stepSize).String()
}

// FormatPrice rounds price to the nearest tick.
func (b *BinanceExecutor) FormatPrice(symbol string, price float64) string {
	f, ok := b.symbolFilters(symbol)
	if !ok || f.tickSize.IsZero() {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	return decimal.NewFromFloat(price).Div(f.tickSize).Round(0).Mul(f.tickSize).String()
}
