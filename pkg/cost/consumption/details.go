package consumption

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/costtrack/pkg/period"
)

var (
	// ErrUpdatePastMonth is returned when a configuration change is applied
	// to a record of a different month than the change time.
	ErrUpdatePastMonth = errors.New("configuration update outside the record's month")

	// ErrClockWentBackwards is returned when a change is older than the
	// record's last update.
	ErrClockWentBackwards = errors.New("configuration update precedes last update")
)

// Details is the consumption record of one resource for one month.
//
// ConsumedBeforeUpdate holds unit-minutes accumulated up to LastUpdateTime.
// Configuration is the quantity of each item in effect since then.
type Details struct {
	ResourceID   string
	Month        period.Month
	ResourceType string
	Service      string

	Configuration        Usage
	ConsumedBeforeUpdate Usage
	LastUpdateTime       time.Time
}

// Clone returns a deep copy of d.
func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	c := *d
	c.Configuration = d.Configuration.Clone()
	c.ConsumedBeforeUpdate = d.ConsumedBeforeUpdate.Clone()
	return &c
}

// Manager applies configuration changes to Details in a fixed time zone.
// It holds no state besides the zone and is safe for concurrent use.
type Manager struct {
	loc *time.Location
}

// NewManager returns a Manager for loc. A nil loc means UTC.
func NewManager(loc *time.Location) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{loc: loc}
}

// Location returns the manager's time zone.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// MonthOf returns the month containing t in the manager's zone.
func (m *Manager) MonthOf(t time.Time) period.Month {
	return period.Of(t.In(m.loc))
}

// Normalize converts t to the manager's zone and truncates it to the minute.
func (m *Manager) Normalize(t time.Time) time.Time {
	return period.Truncate(t.In(m.loc))
}

// Open starts a record for resourceID in the month containing at, with
// config in effect from at (or from the month start, whichever is later).
func (m *Manager) Open(resourceID, resourceType, service string, config Usage, at time.Time) *Details {
	return m.OpenAt(resourceID, resourceType, service, m.MonthOf(at), config, at)
}

// OpenAt starts a record for an explicit month, with config in effect from
// the later of from and the month start.
func (m *Manager) OpenAt(resourceID, resourceType, service string, month period.Month, config Usage, from time.Time) *Details {
	start := month.Start(m.loc)
	from = m.Normalize(from)
	if from.Before(start) {
		from = start
	}
	return &Details{
		ResourceID:           resourceID,
		Month:                month,
		ResourceType:         resourceType,
		Service:              service,
		Configuration:        config.Clone(),
		ConsumedBeforeUpdate: make(Usage),
		LastUpdateTime:       from,
	}
}

// CarryOver seeds the record for month from prev's configuration, starting
// at the first minute of month.
func (m *Manager) CarryOver(prev *Details, month period.Month) *Details {
	return m.OpenAt(prev.ResourceID, prev.ResourceType, prev.Service, month, prev.Configuration, month.Start(m.loc))
}

// Update folds the consumption since LastUpdateTime into
// ConsumedBeforeUpdate and installs config. It returns the change of the
// full-month projection in unit-minutes.
func (m *Manager) Update(d *Details, config Usage, now time.Time) (Usage, error) {
	now = m.Normalize(now)
	if m.MonthOf(now) != d.Month {
		return nil, fmt.Errorf("%w: %s at %s", ErrUpdatePastMonth, d.Month, now.Format(time.RFC3339))
	}
	if now.Before(d.LastUpdateTime) {
		return nil, fmt.Errorf("%w: %s before %s", ErrClockWentBackwards,
			now.Format(time.RFC3339), d.LastUpdateTime.Format(time.RFC3339))
	}

	before := m.ProjectedFullMonth(d)

	elapsed := period.Minutes(d.LastUpdateTime, now)
	if d.ConsumedBeforeUpdate == nil {
		d.ConsumedBeforeUpdate = make(Usage)
	}
	for item, units := range d.Configuration {
		if used := units * elapsed; used != 0 {
			d.ConsumedBeforeUpdate[item] += used
		}
	}
	d.Configuration = config.Clone()
	d.LastUpdateTime = now

	return m.ProjectedFullMonth(d).Sub(before), nil
}

// Consumed returns the unit-minutes used from the month start until now.
// Times after the month end are clamped to it.
func (m *Manager) Consumed(d *Details, now time.Time) (Usage, error) {
	now = m.Normalize(now)
	if end := d.Month.End(m.loc); now.After(end) {
		now = end
	}
	if now.Before(d.LastUpdateTime) {
		return nil, fmt.Errorf("%w: %s before %s", ErrClockWentBackwards,
			now.Format(time.RFC3339), d.LastUpdateTime.Format(time.RFC3339))
	}
	return m.extend(d, period.Minutes(d.LastUpdateTime, now)), nil
}

// ProjectedFullMonth returns the unit-minutes the resource will have used
// by the end of the month if its configuration does not change.
func (m *Manager) ProjectedFullMonth(d *Details) Usage {
	return m.extend(d, m.RemainingMinutes(d))
}

// RemainingMinutes returns the minutes from LastUpdateTime to the month end.
func (m *Manager) RemainingMinutes(d *Details) int64 {
	return period.Minutes(d.LastUpdateTime, d.Month.End(m.loc))
}

func (m *Manager) extend(d *Details, minutes int64) Usage {
	out := d.ConsumedBeforeUpdate.Clone()
	for item, units := range d.Configuration {
		if used := units * minutes; used != 0 {
			out[item] += used
		}
	}
	return out
}
