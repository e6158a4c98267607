package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionValidateRejectsNonFinite(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(-1)
	base := Decision{Symbol: "600519", Action: ActionBuy, Confidence: 80}

	cases := map[string]func(d *Decision){
		"nan confidence":    func(d *Decision) { d.Confidence = nan },
		"inf confidence":    func(d *Decision) { d.Confidence = math.Inf(1) },
		"nan position size": func(d *Decision) { d.PositionSizePct = &nan },
		"inf stop loss":     func(d *Decision) { d.StopLossPct = &inf },
		"nan take profit":   func(d *Decision) { d.TakeProfitPct = &nan },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := base
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), ErrOracleInvalid)
		})
	}

	assert.NoError(t, base.Validate())
}
