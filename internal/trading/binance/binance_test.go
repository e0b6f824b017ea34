package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeInfoJSON = `{
	"symbols": [{
		"symbol": "BTCUSDT",
		"filters": [
			{"filterType": "PRICE_FILTER", "minPrice": "0.10", "maxPrice": "100000", "tickSize": "0.10"},
			{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"}
		]
	}]
}`

type fakeFutures struct {
	mu     sync.Mutex
	orders []url.Values
	routes map[string]func(w http.ResponseWriter, r *http.Request)
}

func setupTestServer(t *testing.T) (*httptest.Server, *BinanceExecutor, *fakeFutures) {
	fake := &fakeFutures{routes: map[string]func(w http.ResponseWriter, r *http.Request){}}
	fake.routes["exchangeInfo"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exchangeInfoJSON))
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		for suffix, handler := range fake.routes {
			if strings.HasSuffix(r.URL.Path, suffix) {
				handler(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":-1,"msg":"not found"}`))
	}))

	executor := NewBinanceExecutor("key", "secret")
	executor.client.BaseURL = server.URL
	executor.client.HTTPClient = server.Client()

	return server, executor, fake
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestBinanceExecutor_Precision(t *testing.T) {
	server, executor, _ := setupTestServer(t)
	defer server.Close()

	// unknown filters leave values untouched
	assert.Equal(t, "0.0123456", executor.FormatQuantity("BTCUSDT", 0.0123456))

	require.NoError(t, executor.LoadExchangeInfo(context.Background()))

	assert.Equal(t, "0.012", executor.FormatQuantity("BTCUSDT", 0.0123456))
	assert.Equal(t, "0.019", executor.FormatQuantity("BTCUSDT", 0.0199999))
	assert.Equal(t, "42000.1", executor.FormatPrice("BTCUSDT", 42000.1234))
	assert.Equal(t, "42000.2", executor.FormatPrice("BTCUSDT", 42000.16))
	assert.Equal(t, "1.5", executor.FormatQuantity("ETHUSDT", 1.5))
}

func TestBinanceExecutor_PlaceOrder(t *testing.T) {
	server, executor, fake := setupTestServer(t)
	defer server.Close()

	fake.routes["/fapi/v1/order"] = func(w http.ResponseWriter, r *http.Request) {
		fake.mu.Lock()
		fake.orders = append(fake.orders, r.Form)
		fake.mu.Unlock()
		writeJSON(t, w, map[string]interface{}{
			"symbol":        r.Form.Get("symbol"),
			"orderId":       4242,
			"clientOrderId": r.Form.Get("newClientOrderId"),
			"status":        "NEW",
		})
	}

	ctx := context.Background()
	require.NoError(t, executor.LoadExchangeInfo(ctx))

	t.Run("limit entry rounded at submission", func(t *testing.T) {
		order := &trading.Order{
			Symbol:        "BTCUSDT",
			Side:          trading.SideBuy,
			Amount:        0.0156789,
			Price:         41999.97,
			OrderType:     trading.OrderTypeLimit,
			ClientOrderID: "entry-1",
		}
		require.NoError(t, executor.PlaceOrder(ctx, order))
		assert.Equal(t, "4242", order.OrderID)
		assert.Equal(t, int64(4242), order.RawOrderID)
		assert.Equal(t, "NEW", order.Status)

		sent := fake.orders[len(fake.orders)-1]
		assert.Equal(t, "LIMIT", sent.Get("type"))
		assert.Equal(t, "BUY", sent.Get("side"))
		assert.Equal(t, "0.015", sent.Get("quantity"))
		assert.Equal(t, "42000", sent.Get("price"))
		assert.Equal(t, "GTC", sent.Get("timeInForce"))
	})

	t.Run("close-position stop", func(t *testing.T) {
		order := &trading.Order{
			Symbol:        "BTCUSDT",
			Side:          trading.SideSell,
			StopPrice:     41000.04,
			OrderType:     trading.OrderTypeStopMarket,
			ClosePosition: true,
			ReduceOnly:    true,
		}
		require.NoError(t, executor.PlaceOrder(ctx, order))

		sent := fake.orders[len(fake.orders)-1]
		assert.Equal(t, "STOP_MARKET", sent.Get("type"))
		assert.Equal(t, "41000", sent.Get("stopPrice"))
		assert.Equal(t, "true", sent.Get("closePosition"))
		assert.Equal(t, "MARK_PRICE", sent.Get("workingType"))
		assert.Empty(t, sent.Get("quantity"))
		assert.Empty(t, sent.Get("reduceOnly"))
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.Error(t, executor.PlaceOrder(ctx, &trading.Order{Symbol: "BTCUSDT", Side: "hold", OrderType: trading.OrderTypeMarket}))
		assert.Error(t, executor.PlaceOrder(ctx, &trading.Order{Symbol: "BTCUSDT", Side: trading.SideBuy, OrderType: "iceberg"}))
	})
}

func TestBinanceExecutor_Rejection(t *testing.T) {
	server, executor, fake := setupTestServer(t)
	defer server.Close()

	fake.routes["/fapi/v1/order"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	}
	fake.routes["/fapi/v1/marginType"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
	}
	fake.routes["/fapi/v1/leverage"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	}

	ctx := context.Background()

	err := executor.PlaceOrder(ctx, &trading.Order{Symbol: "BTCUSDT", Side: trading.SideBuy, Amount: 1, OrderType: trading.OrderTypeMarket})
	require.Error(t, err)
	assert.ErrorIs(t, err, trading.ErrRejected)

	var rejected *trading.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, int64(-2019), rejected.Code)

	assert.NoError(t, executor.SetMarginType(ctx, "BTCUSDT", true))

	err = executor.SetLeverage(ctx, "BTCUSDT", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, trading.ErrRejected)
}

func TestBinanceExecutor_Reads(t *testing.T) {
	server, executor, fake := setupTestServer(t)
	defer server.Close()

	fake.routes["positionRisk"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"42000.5","markPrice":"41900","leverage":"10"},
			{"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0.0","markPrice":"2200","leverage":"10"},
			{"symbol":"SOLUSDT","positionAmt":"3","entryPrice":"95.2","markPrice":"96","leverage":"5"}
		]`))
	}
	fake.routes["/fapi/v1/openOrders"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"sl-1","type":"STOP_MARKET","side":"BUY","stopPrice":"43000","price":"0","origQty":"0","closePosition":true,"status":"NEW"},
			{"symbol":"SOLUSDT","orderId":8,"clientOrderId":"entry-2","type":"LIMIT","side":"BUY","stopPrice":"0","price":"90.5","origQty":"2","closePosition":false,"status":"NEW"}
		]`))
	}
	fake.routes["balance"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"asset":"BNB","balance":"1","availableBalance":"1"},{"asset":"USDT","balance":"1000","availableBalance":"750.5"}]`))
	}
	fake.routes["/fapi/v1/klines"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15m", r.Form.Get("interval"))
		_, _ = w.Write([]byte(`[
			[1499040000000,"100.0","110.0","95.0","105.0","1000.5",1499040899999,"0",10,"0","0","0"],
			[1499040900000,"105.0","106.0","104.0","105.5","20.0",4102444800000,"0",10,"0","0","0"]
		]`))
	}
	fake.routes["/fapi/v1/listenKey"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"listenKey":"lk-123"}`))
	}

	ctx := context.Background()

	positions, err := executor.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, models.PositionSnapshot{Symbol: "BTCUSDT", Side: models.SideShort, EntryPrice: 42000.5, Contracts: 0.01}, positions[0])
	assert.Equal(t, models.SideLong, positions[1].Side)

	orders, err := executor.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "7", orders[0].OrderID)
	assert.Equal(t, trading.OrderTypeStopMarket, orders[0].OrderType)
	assert.True(t, orders[0].ClosePosition)
	assert.Equal(t, trading.SideBuy, orders[1].Side)
	assert.Equal(t, 90.5, orders[1].Price)

	balance, err := executor.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 750.5, balance)
	_, err = executor.GetBalance(ctx, "DOGE")
	assert.Error(t, err)

	candles, err := executor.GetKlines(ctx, "BTCUSDT", "15m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.True(t, candles[0].Closed)
	assert.False(t, candles[1].Closed)

	key, err := executor.StartSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lk-123", key)
	assert.NoError(t, executor.KeepAliveSession(ctx, key))
}

func TestBinanceExecutor_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		t.Skip("BINANCE_API_KEY/BINANCE_SECRET_KEY not set")
	}

	executor := NewBinanceExecutor(apiKey, secretKey, true)
	ctx := context.Background()

	require.NoError(t, executor.LoadExchangeInfo(ctx))

	t.Run("Test Get Balance", func(t *testing.T) {
		balance, err := executor.GetBalance(ctx, "USDT")
		require.NoError(t, err)
		require.GreaterOrEqual(t, balance, 0.0)
	})

	t.Run("Test Open Orders", func(t *testing.T) {
		_, err := executor.GetOpenOrders(ctx)
		require.NoError(t, err)
	})
}
