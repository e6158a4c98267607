// Package oracle obtains trading decisions from an external decision
// service and validates them at the boundary.
package oracle

import (
	"context"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// Request carries everything the oracle is shown for one decision.
type Request struct {
	Symbol   string
	Name     string
	Session  string
	Market   domain.MarketSnapshot
	Account  domain.AccountSnapshot
	Position *domain.Holding
}

// Oracle returns a validated decision for req. Implementations return an
// error wrapping domain.ErrOracleUnavailable or domain.ErrOracleInvalid
// instead of a partially filled decision.
type Oracle interface {
	Decide(ctx context.Context, req Request) (domain.Decision, error)
}
