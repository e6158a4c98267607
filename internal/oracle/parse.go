package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// rawDecision mirrors the JSON object the oracle is asked to produce. Every
// field is a pointer or raw message so that missing keys can be told apart
// from zero values.
type rawDecision struct {
	Action          *string          `json:"action"`
	Confidence      *json.RawMessage `json:"confidence"`
	Reasoning       *string          `json:"reasoning"`
	PositionSizePct *float64         `json:"position_size_pct"`
	StopLossPct     *float64         `json:"stop_loss_pct"`
	TakeProfitPct   *float64         `json:"take_profit_pct"`
	RiskLevel       string           `json:"risk_level"`
	KeyPriceLevels  map[string]any   `json:"key_price_levels"`
}

// Parse extracts the decision object from content and validates it. The
// object may be surrounded by prose or a fenced block. A missing action or
// confidence, an unknown action, or an out-of-range number is an error
// wrapping domain.ErrOracleInvalid.
func Parse(content string) (domain.Decision, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return domain.Decision{}, fmt.Errorf("oracle: parse: %w: no JSON object in response", domain.ErrOracleInvalid)
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: parse: %w: %v", domain.ErrOracleInvalid, err)
	}

	if raw.Action == nil {
		return domain.Decision{}, fmt.Errorf("oracle: parse: %w: missing action", domain.ErrOracleInvalid)
	}
	action, err := domain.ParseAction(*raw.Action)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: parse: %w", err)
	}

	if raw.Confidence == nil {
		return domain.Decision{}, fmt.Errorf("oracle: parse: %w: missing confidence", domain.ErrOracleInvalid)
	}
	confidence, err := parseNumber(*raw.Confidence)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: parse: %w: confidence: %v", domain.ErrOracleInvalid, err)
	}

	d := domain.Decision{
		Action:          action,
		Confidence:      confidence,
		PositionSizePct: raw.PositionSizePct,
		StopLossPct:     raw.StopLossPct,
		TakeProfitPct:   raw.TakeProfitPct,
		RiskLevel:       raw.RiskLevel,
		KeyLevels: domain.KeyLevels{
			Support:    levelString(raw.KeyPriceLevels["support"]),
			Resistance: levelString(raw.KeyPriceLevels["resistance"]),
		},
	}
	if raw.Reasoning != nil {
		d.Reasoning = strings.TrimSpace(*raw.Reasoning)
	}
	return d, nil
}

// parseNumber accepts a JSON number or a numeric string such as "75" or "75%".
func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return f, nil
}

func levelString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			if s := levelString(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
