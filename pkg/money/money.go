// Package money provides the fixed-point currency types used by the cost
// tracker.
//
// # Amounts
//
// An Amount is an integer count of 1e-5 currency units. Totals, limits and
// thresholds are all Amounts, so additions and subtractions along the
// estimate hierarchy are exact and commutative.
//
// # Rates
//
// A Rate is an hourly price in hundredths of the currency (cents). Prices are
// converted to Amounts through an Accumulator which keeps the running sum in
// cent-minutes and rounds exactly once:
//
//	var acc money.Accumulator
//	acc.Add(rate, unitMinutes)
//	total := acc.Amount()
//
// One cent-minute is 1/6000 of the currency, i.e. 50/3 Amount units, so the
// single rounding step is round-half-even(N * 50 / 3).
package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of implicit fractional digits of an Amount.
const Scale = 5

// NoLimit marks an estimate without an administrative limit.
const NoLimit Amount = -1

// One is a single currency unit.
const One Amount = 100000

// unitsPerCent is the number of Amount units in one hundredth of the currency.
const unitsPerCent = 1000

// ErrInvalidAmount is returned when a textual amount or rate cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a currency value in 1e-5 units.
type Amount int64

// FromCents converts hundredths of the currency to an Amount.
func FromCents(cents int64) Amount {
	return Amount(cents * unitsPerCent)
}

// ParseAmount parses a decimal string such as "12.5" into an Amount.
// More than five fractional digits are rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	scaled := d.Shift(Scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, Scale)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return Amount(scaled.IntPart()), nil
}

// ParseLimit parses a limit where "-1" means NoLimit. Any other negative
// value is rejected.
func ParseLimit(s string) (Amount, error) {
	a, err := ParseAmount(s)
	if err != nil {
		return 0, err
	}
	if a == -One {
		return NoLimit, nil
	}
	if a < 0 {
		return 0, fmt.Errorf("%w: negative limit %q", ErrInvalidAmount, s)
	}
	return a, nil
}

// FormatLimit renders a limit, with NoLimit as "-1".
func FormatLimit(a Amount) string {
	if a == NoLimit {
		return "-1"
	}
	return a.String()
}

// Decimal returns the exact decimal value of a.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String renders a with two fractional digits, rounding half to even.
func (a Amount) String() string {
	return a.Decimal().StringFixedBank(2)
}

// Exact renders a with all five fractional digits.
func (a Amount) Exact() string {
	return a.Decimal().StringFixed(Scale)
}

// Float64 returns an approximate float value, for metrics only.
func (a Amount) Float64() float64 {
	return a.Decimal().InexactFloat64()
}

// Rate is an hourly price in hundredths of the currency.
type Rate int64

// ParseRate parses an hourly price such as "0.50". At most two fractional
// digits are accepted and the rate must not be negative.
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative rate %q", ErrInvalidAmount, s)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: rate %q has more than 2 fractional digits", ErrInvalidAmount, s)
	}
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: rate %q out of range", ErrInvalidAmount, s)
	}
	return Rate(cents.IntPart()), nil
}

// String renders r as a decimal with two fractional digits.
func (r Rate) String() string {
	return decimal.New(int64(r), -2).StringFixed(2)
}

// PerMinute returns the per-minute price, rounded half to even at seven
// fractional digits. It is informational; costs are computed through an
// Accumulator.
func (r Rate) PerMinute() decimal.Decimal {
	return decimal.New(int64(r), -2).Div(decimal.NewFromInt(60)).RoundBank(7)
}

// Accumulator sums rate*unitMinutes products exactly.
// The zero value is ready to use.
type Accumulator struct {
	centMinutes big.Int
}

// Add accumulates unitMinutes priced at rate. Non-positive quantities are ignored.
func (a *Accumulator) Add(rate Rate, unitMinutes int64) {
	if rate <= 0 || unitMinutes <= 0 {
		return
	}
	var p big.Int
	p.Mul(big.NewInt(int64(rate)), big.NewInt(unitMinutes))
	a.centMinutes.Add(&a.centMinutes, &p)
}

// Merge adds the contents of other into a.
func (a *Accumulator) Merge(other *Accumulator) {
	a.centMinutes.Add(&a.centMinutes, &other.centMinutes)
}

// Amount converts the accumulated cent-minutes to an Amount, rounding half
// to even. Values beyond the Amount range saturate.
func (a *Accumulator) Amount() Amount {
	var num, q, r big.Int
	num.Mul(&a.centMinutes, big.NewInt(50))
	q.QuoRem(&num, big.NewInt(3), &r)
	// r is 0, 1 or 2 against a divisor of 3, so there is never an exact half.
	if r.Int64()*2 > 3 {
		q.Add(&q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return Amount(math.MaxInt64)
	}
	return Amount(q.Int64())
}

// Cost prices unitMinutes at rate.
func Cost(rate Rate, unitMinutes int64) Amount {
	var acc Accumulator
	acc.Add(rate, unitMinutes)
	return acc.Amount()
}
