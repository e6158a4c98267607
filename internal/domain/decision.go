package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Action is the trading action recommended by the decision oracle.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalises s and returns the matching Action. Anything other
// than BUY, SELL or HOLD is rejected.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrOracleInvalid, s)
	}
}

// Actionable reports whether the action can lead to an order.
func (a Action) Actionable() bool {
	return a == ActionBuy || a == ActionSell
}

// KeyLevels are the support and resistance prices quoted with a decision.
// They are kept as free text because the oracle may quote ranges.
type KeyLevels struct {
	Support    string `json:"support,omitempty"`
	Resistance string `json:"resistance,omitempty"`
}

// Decision is one oracle verdict for one symbol at one point in time. A
// Decision is immutable once created and is persisted whether or not it is
// executed.
type Decision struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Session         string    `json:"session"`
	Action          Action    `json:"action"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	PositionSizePct *float64  `json:"position_size_pct,omitempty"`
	StopLossPct     *float64  `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   *float64  `json:"take_profit_pct,omitempty"`
	RiskLevel       string    `json:"risk_level,omitempty"`
	KeyLevels       KeyLevels `json:"key_levels"`
	// Degraded marks a synthetic HOLD substituted for a failed or invalid
	// oracle response.
	Degraded bool `json:"degraded"`
}

// Validate enforces the oracle boundary schema.
func (d Decision) Validate() error {
	if d.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrOracleInvalid)
	}
	if _, err := ParseAction(string(d.Action)); err != nil {
		return err
	}
	if !inPercentRange(d.Confidence) {
		return fmt.Errorf("%w: confidence %.2f out of range [0,100]", ErrOracleInvalid, d.Confidence)
	}
	for name, p := range map[string]*float64{
		"position_size_pct": d.PositionSizePct,
		"stop_loss_pct":     d.StopLossPct,
		"take_profit_pct":   d.TakeProfitPct,
	} {
		if p != nil && !inPercentRange(*p) {
			return fmt.Errorf("%w: %s %.2f out of range [0,100]", ErrOracleInvalid, name, *p)
		}
	}
	return nil
}

// inPercentRange reports whether v is a finite value in [0,100]. NaN fails
// every ordered comparison, so it is checked first.
func inPercentRange(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= 0 && v <= 100
}

// HoldDecision builds the synthetic HOLD used whenever the oracle fails or
// answers with something that does not validate. Its confidence is always 0.
func HoldDecision(symbol, name, session string, at time.Time, cause error) Decision {
	reason := "decision oracle unavailable"
	if cause != nil {
		reason = cause.Error()
	}
	return Decision{
		Symbol:     symbol,
		Name:       name,
		Timestamp:  at,
		Session:    session,
		Action:     ActionHold,
		Confidence: 0,
		Reasoning:  "degraded to HOLD: " + reason,
		Degraded:   true,
	}
}
