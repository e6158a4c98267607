package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a position in one symbol. SellableQuantity never exceeds
// Quantity; the difference is waiting on T+1 settlement.
type Holding struct {
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name,omitempty"`
	Quantity         int64           `json:"quantity"`
	SellableQuantity int64           `json:"sellable_quantity"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	OpenDate         time.Time       `json:"open_date"`
	StopLossPrice    decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice  decimal.Decimal `json:"take_profit_price"`
	LastPrice        decimal.Decimal `json:"last_price"`
}

// MarketValue returns quantity × last known price, falling back to cost
// when no price has been observed yet.
func (h Holding) MarketValue() decimal.Decimal {
	px := h.LastPrice
	if px.IsZero() {
		px = h.CostBasis
	}
	return px.Mul(decimal.NewFromInt(h.Quantity))
}

// UnrealizedPnL returns (last − cost) × quantity.
func (h Holding) UnrealizedPnL() decimal.Decimal {
	if h.LastPrice.IsZero() {
		return decimal.Zero
	}
	return h.LastPrice.Sub(h.CostBasis).Mul(decimal.NewFromInt(h.Quantity))
}

// SettlementEntry is a bought lot that becomes sellable on SellableOn.
type SettlementEntry struct {
	Seq        uint64    `json:"seq"`
	Symbol     string    `json:"symbol"`
	Quantity   int64     `json:"quantity"`
	SellableOn time.Time `json:"sellable_on"`
}

// AccountSnapshot is a point-in-time summary of one trading account.
type AccountSnapshot struct {
	AccountID     string          `json:"account_id"`
	Live          bool            `json:"live"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	MarketValue   decimal.Decimal `json:"market_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Holdings      int             `json:"holdings"`
	PendingLots   int             `json:"pending_lots"`
	AsOf          time.Time       `json:"as_of"`
}
