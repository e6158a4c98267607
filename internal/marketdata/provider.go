// Package marketdata fetches per-symbol market snapshots for the monitor
// loops. Indicator computation happens upstream; this package only moves
// the numbers.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// Provider returns the current market snapshot for a symbol.
type Provider interface {
	Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
}

// HTTPProvider reads snapshots from a quote service over HTTP.
type HTTPProvider struct {
	client *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewHTTPProvider creates an HTTPProvider for the service at baseURL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &HTTPProvider{
		client: client,
		logger: logger.With(slog.String("component", "marketdata")),
		now:    time.Now,
	}
}

type quoteResponse struct {
	Symbol     string             `json:"symbol"`
	Name       string             `json:"name"`
	Price      decimal.Decimal    `json:"price"`
	ChangePct  float64            `json:"change_pct"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators"`
}

// Snapshot fetches GET /quote/{symbol}.
func (p *HTTPProvider) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	var out quoteResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetResult(&out).
		Get("/quote/{symbol}")
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata: %s: %w: %v", symbol, domain.ErrDataUnavailable, err)
	}
	if resp.IsError() {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata: %s: %w: status %d",
			symbol, domain.ErrDataUnavailable, resp.StatusCode())
	}
	if !out.Price.IsPositive() {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata: %s: %w: no price", symbol, domain.ErrDataUnavailable)
	}

	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return domain.MarketSnapshot{
		Symbol:     out.Symbol,
		Name:       out.Name,
		Price:      out.Price,
		ChangePct:  out.ChangePct,
		Volume:     out.Volume,
		Indicators: out.Indicators,
		FetchedAt:  p.now(),
	}, nil
}

var _ Provider = (*HTTPProvider)(nil)
