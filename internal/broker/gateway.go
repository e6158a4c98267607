// Package broker provides the brokerage gateway used by the execution
// manager: a live adapter over an HTTP trading bridge and an in-memory
// simulator. Connect picks one at startup.
package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// Gateway executes orders and reports account and position state.
type Gateway interface {
	// Connect attaches the gateway to accountID.
	Connect(ctx context.Context, accountID string) (bool, error)
	AccountInfo(ctx context.Context) (domain.AccountSnapshot, error)
	// Position returns nil without error when symbol is not held.
	Position(ctx context.Context, symbol string) (*domain.Holding, error)
	Buy(ctx context.Context, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error)
	Sell(ctx context.Context, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
	// Live reports whether orders reach a real brokerage.
	Live() bool
}

// Options configures gateway selection.
type Options struct {
	LiveEnabled    bool
	BridgeURL      string
	Token          string
	AccountID      string
	Timeout        time.Duration
	SimulatorCash  decimal.Decimal
	ConnectTimeout time.Duration
}

// Connect tries the live bridge and falls back to a simulator when it is
// disabled or cannot be reached. The fallback is logged, never fatal.
func Connect(ctx context.Context, opts Options, cal Calendar, logger *slog.Logger) Gateway {
	logger = logger.With(slog.String("component", "broker"))

	if opts.LiveEnabled && opts.BridgeURL != "" {
		live := NewLive(opts.BridgeURL, opts.Token, opts.Timeout, logger)

		timeout := opts.ConnectTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		ok, err := live.Connect(cctx, opts.AccountID)
		cancel()
		if ok && err == nil {
			logger.InfoContext(ctx, "connected to live brokerage",
				slog.String("account_id", opts.AccountID),
				slog.String("bridge", opts.BridgeURL),
			)
			return live
		}

		attrs := []any{slog.String("account_id", opts.AccountID)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.WarnContext(ctx, "live brokerage unavailable, falling back to simulator", attrs...)
	} else {
		logger.InfoContext(ctx, "live brokerage disabled, using simulator")
	}

	sim := NewSimulator(opts.AccountID, opts.SimulatorCash, cal, logger)
	_, _ = sim.Connect(ctx, opts.AccountID)
	return sim
}
