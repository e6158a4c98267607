package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults applied when a task or decision leaves a percentage unset.
const (
	DefaultPositionSizePct = 20.0
	DefaultStopLossPct     = 5.0
	DefaultTakeProfitPct   = 10.0
	DefaultCheckInterval   = 300
	MinCheckInterval       = 1
)

// PresetPosition is a position declared by the operator instead of queried
// from the brokerage.
type PresetPosition struct {
	CostBasis decimal.Decimal `json:"cost_basis"`
	Quantity  int64           `json:"quantity"`
	OpenDate  time.Time       `json:"open_date"`
}

// MonitorTask is the operator's registration of one watched symbol. At most
// one monitor loop runs per Symbol.
type MonitorTask struct {
	Symbol               string          `json:"symbol"`
	Name                 string          `json:"name,omitempty"`
	CheckIntervalSeconds int             `json:"check_interval_seconds"`
	AutoTrade            bool            `json:"auto_trade"`
	TradingHoursOnly     bool            `json:"trading_hours_only"`
	PositionSizePct      float64         `json:"position_size_pct"`
	StopLossPct          float64         `json:"stop_loss_pct"`
	TakeProfitPct        float64         `json:"take_profit_pct"`
	Preset               *PresetPosition `json:"preset,omitempty"`
	Enabled              bool            `json:"enabled"`
	Notify               bool            `json:"notify"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// WithDefaults fills zero-valued tunables with the package defaults.
func (t MonitorTask) WithDefaults() MonitorTask {
	t.Symbol = strings.TrimSpace(t.Symbol)
	if t.CheckIntervalSeconds == 0 {
		t.CheckIntervalSeconds = DefaultCheckInterval
	}
	if t.PositionSizePct == 0 {
		t.PositionSizePct = DefaultPositionSizePct
	}
	if t.StopLossPct == 0 {
		t.StopLossPct = DefaultStopLossPct
	}
	if t.TakeProfitPct == 0 {
		t.TakeProfitPct = DefaultTakeProfitPct
	}
	return t
}

// Validate checks the task for values the monitor loop cannot run with.
func (t MonitorTask) Validate() error {
	var errs []string
	if strings.TrimSpace(t.Symbol) == "" {
		errs = append(errs, "symbol must not be empty")
	}
	if t.CheckIntervalSeconds < MinCheckInterval {
		errs = append(errs, fmt.Sprintf("check_interval_seconds must be >= %d", MinCheckInterval))
	}
	for name, v := range map[string]float64{
		"position_size_pct": t.PositionSizePct,
		"stop_loss_pct":     t.StopLossPct,
		"take_profit_pct":   t.TakeProfitPct,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("%s must be in (0,100], got %.2f", name, v))
		}
	}
	if p := t.Preset; p != nil {
		if p.Quantity < 0 {
			errs = append(errs, "preset quantity must not be negative")
		}
		if p.Quantity > 0 && !p.CostBasis.IsPositive() {
			errs = append(errs, "preset cost_basis must be positive")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTask, strings.Join(errs, "; "))
	}
	return nil
}

// HasPreset reports whether the task carries a usable preset position.
func (t MonitorTask) HasPreset() bool {
	return t.Preset != nil && t.Preset.Quantity > 0
}

// Interval returns the wait between loop iterations.
func (t MonitorTask) Interval() time.Duration {
	return time.Duration(t.CheckIntervalSeconds) * time.Second
}
