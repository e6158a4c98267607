package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// Bridge order status codes as reported by the trading terminal.
const (
	bridgeStatusCancelled = 7
	bridgeStatusFilled    = 9
	bridgeStatusJunk      = 10
)

// Live talks to a local HTTP bridge in front of the brokerage terminal.
type Live struct {
	client *resty.Client
	logger *slog.Logger

	mu        sync.RWMutex
	accountID string
}

// NewLive creates a Live gateway for the bridge at baseURL.
func NewLive(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Live {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Live{
		client: client,
		logger: logger.With(slog.String("gateway", "live")),
	}
}

type connectResponse struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

type accountResponse struct {
	AccountID      string          `json:"account_id"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
	MarketValue    decimal.Decimal `json:"market_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	PositionsCount int             `json:"positions_count"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
}

type positionResponse struct {
	StockCode    string          `json:"stock_code"`
	StockName    string          `json:"stock_name"`
	Quantity     int64           `json:"quantity"`
	CanSell      int64           `json:"can_sell"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	OpenDate     string          `json:"open_date"`
}

type orderRequest struct {
	StockCode string          `json:"stock_code"`
	Side      string          `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"order_type"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// Connect attaches the bridge to accountID.
func (g *Live) Connect(ctx context.Context, accountID string) (bool, error) {
	var out connectResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"account_id": accountID}).
		SetResult(&out).
		Post("/api/connect")
	if err != nil {
		return false, fmt.Errorf("broker: connect: %w: %v", domain.ErrBrokerageUnavailable, err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("broker: connect: %w: status %d: %s",
			domain.ErrBrokerageUnavailable, resp.StatusCode(), resp.String())
	}
	if !out.Connected {
		return false, fmt.Errorf("broker: connect: %w: %s", domain.ErrBrokerageUnavailable, out.Message)
	}

	g.mu.Lock()
	g.accountID = accountID
	g.mu.Unlock()
	return true, nil
}

// Live is always true.
func (g *Live) Live() bool { return true }

// AccountInfo fetches the account summary from the bridge.
func (g *Live) AccountInfo(ctx context.Context) (domain.AccountSnapshot, error) {
	var out accountResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("account_id", g.account()).
		SetResult(&out).
		Get("/api/account")
	if err := checkResponse("account info", resp, err); err != nil {
		return domain.AccountSnapshot{}, err
	}
	return domain.AccountSnapshot{
		AccountID:     out.AccountID,
		Live:          true,
		AvailableCash: out.AvailableCash,
		MarketValue:   out.MarketValue,
		TotalValue:    out.TotalValue,
		UnrealizedPnL: out.ProfitLoss,
		Holdings:      out.PositionsCount,
		AsOf:          time.Now(),
	}, nil
}

// Position fetches the holding for symbol, or nil when none is held.
func (g *Live) Position(ctx context.Context, symbol string) (*domain.Holding, error) {
	var out positionResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("account_id", g.account()).
		SetPathParam("code", FormatSymbol(symbol)).
		SetResult(&out).
		Get("/api/positions/{code}")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if err := checkResponse("position "+symbol, resp, err); err != nil {
		return nil, err
	}
	if out.Quantity <= 0 {
		return nil, nil
	}

	h := &domain.Holding{
		Symbol:           symbol,
		Name:             out.StockName,
		Quantity:         out.Quantity,
		SellableQuantity: out.CanSell,
		CostBasis:        out.CostPrice,
		LastPrice:        out.CurrentPrice,
	}
	if out.OpenDate != "" {
		if d, perr := parseBridgeDate(out.OpenDate); perr == nil {
			h.OpenDate = d
		}
	}
	return h, nil
}

// Buy submits a buy order.
func (g *Live) Buy(ctx context.Context, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error) {
	return g.submit(ctx, domain.OrderSideBuy, symbol, qty, price, orderType)
}

// Sell submits a sell order.
func (g *Live) Sell(ctx context.Context, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error) {
	return g.submit(ctx, domain.OrderSideSell, symbol, qty, price, orderType)
}

func (g *Live) submit(ctx context.Context, side domain.OrderSide, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error) {
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	var out orderResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("account_id", g.account()).
		SetBody(orderRequest{
			StockCode: FormatSymbol(symbol),
			Side:      string(side),
			Quantity:  qty,
			Price:     price,
			OrderType: strings.ToLower(string(orderType)),
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/orders")
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("broker: %s %s: %w: %v", side, symbol, domain.ErrBrokerageUnavailable, err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return domain.OrderResult{}, fmt.Errorf("broker: %s %s: %w: status %d",
			side, symbol, domain.ErrBrokerageUnavailable, resp.StatusCode())
	}
	if resp.IsError() {
		msg := out.Message
		if msg == "" {
			msg = resp.String()
		}
		return domain.OrderResult{OrderID: out.OrderID, Status: domain.OrderStatusRejected, Message: msg}, nil
	}

	result := domain.OrderResult{
		OrderID: out.OrderID,
		Status:  bridgeStatus(out.Status),
		Message: out.Message,
	}
	if result.Status == domain.OrderStatusFilled {
		result.FilledPrice = price
	}
	g.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", result.OrderID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Int64("quantity", qty),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

// Cancel asks the bridge to withdraw an open order.
func (g *Live) Cancel(ctx context.Context, orderID string) (bool, error) {
	var out cancelResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("account_id", g.account()).
		SetPathParam("id", orderID).
		SetResult(&out).
		Delete("/api/orders/{id}")
	if err := checkResponse("cancel "+orderID, resp, err); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

func (g *Live) account() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.accountID
}

func checkResponse(action string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("broker: %s: %w: %v", action, domain.ErrBrokerageUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker: %s: %w: status %d: %s",
			action, domain.ErrBrokerageUnavailable, resp.StatusCode(), resp.String())
	}
	return nil
}

// bridgeStatus maps terminal status codes to order states.
func bridgeStatus(code int) domain.OrderStatus {
	switch code {
	case bridgeStatusFilled:
		return domain.OrderStatusFilled
	case bridgeStatusCancelled, bridgeStatusJunk:
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusSubmitted
	}
}

func parseBridgeDate(s string) (time.Time, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("broker: unrecognised date %q", s)
}

// FormatSymbol appends the exchange suffix: codes starting with 6 trade in
// Shanghai, codes starting with 0 or 3 in Shenzhen. Codes that already carry
// a suffix are returned unchanged.
func FormatSymbol(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.Contains(code, ".") {
		return code
	}
	switch code[0] {
	case '6':
		return code + ".SH"
	case '0', '3':
		return code + ".SZ"
	default:
		return code
	}
}

var _ Gateway = (*Live)(nil)
