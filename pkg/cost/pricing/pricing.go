// Package pricing turns consumption into money. All functions are pure: the
// caller supplies the rate lookup, typically bound from a catalog snapshot.
package pricing

import (
	"time"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
)

// RateFunc returns the hourly rate of an item.
type RateFunc func(consumption.Item) (money.Rate, error)

// Warning reports an item that contributed nothing because it has no price.
type Warning struct {
	Item consumption.Item
	Err  error
}

// CostOfItem prices quantity units of one item held for minutes.
func CostOfItem(rate money.Rate, quantity, minutes int64) money.Amount {
	return money.Cost(rate, quantity*minutes)
}

// CostOfConfiguration prices config held for minutes. Unpriced items are
// skipped and reported as warnings.
func CostOfConfiguration(rates RateFunc, config consumption.Usage, minutes int64) (money.Amount, []Warning) {
	var acc money.Accumulator
	warnings := accumulate(&acc, rates, config, minutes)
	return acc.Amount(), warnings
}

// CostOfUsage prices unit-minutes.
func CostOfUsage(rates RateFunc, unitMinutes consumption.Usage) (money.Amount, []Warning) {
	return CostOfConfiguration(rates, unitMinutes, 1)
}

// ProjectMonthlyEstimate prices what d will have consumed by the end of its
// month if the configuration stays as it is. The consumed part and the
// remaining part share a single rounding step.
func ProjectMonthlyEstimate(rates RateFunc, m *consumption.Manager, d *consumption.Details) (money.Amount, []Warning) {
	var acc money.Accumulator
	warnings := accumulate(&acc, rates, d.ConsumedBeforeUpdate, 1)
	warnings = append(warnings, accumulate(&acc, rates, d.Configuration, m.RemainingMinutes(d))...)
	return acc.Amount(), dedupe(warnings)
}

// ConsumedUntil prices what d has consumed from the month start until now.
func ConsumedUntil(rates RateFunc, m *consumption.Manager, d *consumption.Details, now time.Time) (money.Amount, []Warning, error) {
	used, err := m.Consumed(d, now)
	if err != nil {
		return 0, nil, err
	}
	total, warnings := CostOfUsage(rates, used)
	return total, warnings, nil
}

func accumulate(acc *money.Accumulator, rates RateFunc, u consumption.Usage, minutes int64) []Warning {
	var warnings []Warning
	for _, item := range u.Items() {
		q := u[item]
		if q == 0 || minutes == 0 {
			continue
		}
		rate, err := rates(item)
		if err != nil {
			warnings = append(warnings, Warning{Item: item, Err: err})
			continue
		}
		acc.Add(rate, q*minutes)
	}
	return warnings
}

func dedupe(warnings []Warning) []Warning {
	if len(warnings) < 2 {
		return warnings
	}
	seen := make(map[consumption.Item]bool, len(warnings))
	out := warnings[:0]
	for _, w := range warnings {
		if !seen[w.Item] {
			seen[w.Item] = true
			out = append(out, w)
		}
	}
	return out
}
