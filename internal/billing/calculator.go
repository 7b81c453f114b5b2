package billing

import (
	"fmt"
	"math"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/pkg/errors"
)

// CalculateTotal computes the charge breakdown for one billing period from a
// base amount plus any number of metered readings. All amounts are integer
// cents. Inputs must be non-negative and the per-meter products and the final
// sum must stay within int64; violations return an InvalidAmount error.
//
// The function is pure. It produces the payload for bill-ready intents and
// has no other side effects.
func CalculateTotal(baseAmount int64, meters []model.MeterReading) (*model.BillCharge, error) {
	if baseAmount < 0 {
		return nil, errors.NewInvalidAmount(fmt.Sprintf("base amount must be non-negative, got %d", baseAmount))
	}

	charge := &model.BillCharge{
		BaseAmount: baseAmount,
		MeterCosts: make(map[string]int64, len(meters)),
		Total:      baseAmount,
	}

	for _, m := range meters {
		cost, err := meterCost(m)
		if err != nil {
			return nil, err
		}
		if _, dup := charge.MeterCosts[m.Name]; dup {
			return nil, errors.NewInvalidAmount(fmt.Sprintf("duplicate meter %q", m.Name))
		}
		charge.MeterCosts[m.Name] = cost

		total, ok := addChecked(charge.Total, cost)
		if !ok {
			return nil, errors.NewInvalidAmount(fmt.Sprintf("total overflows adding meter %q", m.Name))
		}
		charge.Total = total
	}

	return charge, nil
}

func meterCost(m model.MeterReading) (int64, error) {
	if m.Name == "" {
		return 0, errors.NewInvalidAmount("meter name must not be empty")
	}
	if m.Usage < 0 {
		return 0, errors.NewInvalidAmount(fmt.Sprintf("meter %q usage must be non-negative, got %d", m.Name, m.Usage))
	}
	if m.Rate < 0 {
		return 0, errors.NewInvalidAmount(fmt.Sprintf("meter %q rate must be non-negative, got %d", m.Name, m.Rate))
	}

	cost, ok := mulChecked(m.Usage, m.Rate)
	if !ok {
		return 0, errors.NewInvalidAmount(fmt.Sprintf("meter %q cost overflows", m.Name))
	}
	return cost, nil
}

func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

func addChecked(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
