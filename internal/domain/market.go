package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is the market-data provider's view of one symbol.
type MarketSnapshot struct {
	Symbol     string             `json:"symbol"`
	Name       string             `json:"name"`
	Price      decimal.Decimal    `json:"price"`
	ChangePct  float64            `json:"change_pct"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	FetchedAt  time.Time          `json:"fetched_at"`
	// Stale is set when the snapshot was served from the price cache after
	// the upstream provider failed.
	Stale bool `json:"stale,omitempty"`
}

// NotificationRecord is the persisted trace of one forwarded notification.
type NotificationRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	DecisionID string    `json:"decision_id,omitempty"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
