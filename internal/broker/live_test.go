package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

func TestFormatSymbol(t *testing.T) {
	cases := map[string]string{
		"600519":    "600519.SH",
		"000001":    "000001.SZ",
		"300750":    "300750.SZ",
		"600519.SH": "600519.SH",
		"830799":    "830799",
		"":          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatSymbol(in), in)
	}
}

func newBridge(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connect", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"connected": true})
	})
	mux.HandleFunc("GET /api/account", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account_id":      r.URL.Query().Get("account_id"),
			"available_cash":  "50000",
			"market_value":    "25000",
			"total_value":     "75000",
			"positions_count": 1,
		})
	})
	mux.HandleFunc("GET /api/positions/{code}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("code") != "600519.SH" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"stock_code": "600519.SH",
			"quantity":   200,
			"can_sell":   100,
			"cost_price": "1500.5",
			"open_date":  "20250303",
		})
	})
	mux.HandleFunc("POST /api/orders", func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.StockCode == "000001.SZ" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "insufficient cash"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"order_id": "42", "status": 9})
	})
	mux.HandleFunc("DELETE /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"cancelled": r.PathValue("id") == "42"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newBridge(t)
	g := NewLive(srv.URL, "secret", 2*time.Second, discardLogger())

	ok, err := g.Connect(ctx, "acct-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, g.Live())

	info, err := g.AccountInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acct-9", info.AccountID)
	assert.True(t, decimal.NewFromInt(75000).Equal(info.TotalValue))

	pos, err := g.Position(ctx, "600519")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(200), pos.Quantity)
	assert.Equal(t, int64(100), pos.SellableQuantity)
	assert.Equal(t, 2025, pos.OpenDate.Year())

	pos, err = g.Position(ctx, "000002")
	require.NoError(t, err)
	assert.Nil(t, pos)

	res, err := g.Buy(ctx, "600519", 100, decimal.NewFromInt(1500), domain.OrderTypeMarket)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, "42", res.OrderID)

	res, err = g.Sell(ctx, "000001", 100, decimal.NewFromInt(10), domain.OrderTypeLimit)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, "insufficient cash", res.Message)

	cancelled, err := g.Cancel(ctx, "42")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestLiveUnreachable(t *testing.T) {
	g := NewLive("http://127.0.0.1:1", "", 500*time.Millisecond, discardLogger())
	_, err := g.Connect(context.Background(), "acct")
	assert.ErrorIs(t, err, domain.ErrBrokerageUnavailable)
}
