package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotSize is the minimum tradable multiple of shares.
const LotSize int64 = 100

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType selects market or limit pricing at the brokerage.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks the order lifecycle. FILLED and REJECTED are terminal.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected
}

// Order is one request sent (or refused before sending) to the brokerage.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name,omitempty"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Status      OrderStatus     `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	DecisionID  string          `json:"decision_id,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Live        bool            `json:"live"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Notional returns quantity × price.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// OrderResult is the brokerage's answer to a submission.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	Message     string
	FilledPrice decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Accepted reports whether the brokerage took the order.
func (r OrderResult) Accepted() bool {
	return r.Status == OrderStatusSubmitted || r.Status == OrderStatusFilled
}

// ExecutionResult summarises what the execution manager did with a decision.
type ExecutionResult struct {
	Attempted   bool            `json:"attempted"`
	Success     bool            `json:"success"`
	OrderID     string          `json:"order_id,omitempty"`
	Side        OrderSide       `json:"side,omitempty"`
	Quantity    int64           `json:"quantity,omitempty"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Reason      string          `json:"reason,omitempty"`
}

// Summary renders the result as a short human-readable line.
func (r ExecutionResult) Summary() string {
	switch {
	case !r.Attempted:
		return "not executed"
	case r.Success:
		return "executed"
	default:
		return "failed: " + r.Reason
	}
}
