// Package period models calendar months and minute arithmetic in the
// deployment time zone.
package period

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMonth is returned by Parse for malformed input.
var ErrInvalidMonth = errors.New("invalid month")

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// New returns the month for year and m.
func New(year int, m time.Month) Month {
	return Month{Year: year, Month: m}
}

// Of returns the month containing t, using t's location.
func Of(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Parse accepts "YYYY-MM".
func Parse(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Of(t), nil
}

// Valid reports whether m names a real month.
func (m Month) Valid() bool {
	return m.Year > 0 && m.Month >= time.January && m.Month <= time.December
}

// Start returns midnight of the first day of m in loc.
func (m Month) Start(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// End returns the last second of m in loc.
func (m Month) End(loc *time.Location) time.Time {
	return m.Next().Start(loc).Add(-time.Second)
}

// Next returns the following month.
func (m Month) Next() Month {
	return m.add(1)
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return m.add(-1)
}

func (m Month) add(n int) Month {
	idx := m.index() + n
	return Month{Year: idx / 12, Month: time.Month(idx%12 + 1)}
}

func (m Month) index() int {
	return m.Year*12 + int(m.Month) - 1
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	return m.index() < o.index()
}

// After reports whether m is later than o.
func (m Month) After(o Month) bool {
	return m.index() > o.index()
}

// Contains reports whether t falls inside m when viewed in loc.
func (m Month) Contains(t time.Time, loc *time.Location) bool {
	return Of(t.In(loc)) == m
}

// String renders m as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Range returns the months from first to last inclusive.
func Range(first, last Month) []Month {
	var out []Month
	for m := first; !m.After(last); m = m.Next() {
		out = append(out, m)
	}
	return out
}

// Minutes returns the whole minutes between from and to, or 0 when to is
// not after from.
func Minutes(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return int64(to.Sub(from) / time.Minute)
}

// Truncate drops seconds and sub-seconds from t.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
