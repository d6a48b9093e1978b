// Package estimate maintains monthly price estimates for every scope and
// propagates resource changes up the scope hierarchy.
//
// # Totals
//
// A resource estimate's total is computed from its consumption record. Every
// other estimate's total is the sum of its summed children (see
// scope.Kind.SummedChild) and is only ever changed by adding deltas, so
// concurrent updates from different resources commute.
//
// # Limits
//
// Limit is the administrative ceiling, NoLimit by default. A non-leaf estimate
// without an administrative limit reports the sum of its live children's
// effective limits, or NoLimit if any of them is unlimited. The aggregate is
// maintained incrementally in ChildCount, UnlimitedChildren and ChildLimitSum.
//
// # Deletion
//
// When a scope is deleted its estimates are frozen: Details records a
// snapshot of the scope, the total stays in every ancestor, and the estimate
// leaves its parents' limit aggregation.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

// NoLimit marks an estimate without a limit.
const NoLimit = money.NoLimit

// ErrFrozen is returned when a resource change targets a frozen estimate.
var ErrFrozen = errors.New("estimate is frozen")

// Key identifies an estimate.
type Key struct {
	Scope scope.Ref
	Month period.Month
}

// String renders "kind:id@YYYY-MM".
func (k Key) String() string {
	return k.Scope.String() + "@" + k.Month.String()
}

// PriceEstimate is the monthly cost estimate of one scope.
type PriceEstimate struct {
	Scope scope.Ref
	Month period.Month

	Total     money.Amount
	Consumed  money.Amount
	Limit     money.Amount
	Threshold money.Amount

	// Details is nil while the scope exists.
	Details map[string]string

	ChildCount        int
	UnlimitedChildren int
	ChildLimitSum     money.Amount

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty estimate for key.
func New(key Key) *PriceEstimate {
	return &PriceEstimate{
		Scope: key.Scope,
		Month: key.Month,
		Limit: NoLimit,
	}
}

// Key returns the estimate's key.
func (e *PriceEstimate) Key() Key {
	return Key{Scope: e.Scope, Month: e.Month}
}

// Deleted reports whether the estimate is frozen.
func (e *PriceEstimate) Deleted() bool {
	return e.Details != nil
}

// EffectiveLimit returns the administrative limit if one is set, else the
// aggregate of the live summed children, else NoLimit.
func (e *PriceEstimate) EffectiveLimit() money.Amount {
	if e.Limit >= 0 || e.ChildCount == 0 {
		return e.Limit
	}
	if e.UnlimitedChildren > 0 {
		return NoLimit
	}
	return e.ChildLimitSum
}

// OverThreshold reports whether a positive threshold has been reached.
func (e *PriceEstimate) OverThreshold() bool {
	return e.Threshold > 0 && e.Total >= e.Threshold
}

// OverLimit reports whether the effective limit has been reached.
func (e *PriceEstimate) OverLimit() bool {
	lim := e.EffectiveLimit()
	return lim >= 0 && e.Total >= lim
}

// Clone returns a deep copy of e.
func (e *PriceEstimate) Clone() *PriceEstimate {
	if e == nil {
		return nil
	}
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// InvariantError reports a broken aggregation invariant. It is not
// retryable; the affected subtree is attached for diagnosis.
type InvariantError struct {
	Key      Key
	Reason   string
	Snapshot []*PriceEstimate
}

func (e *InvariantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "estimate invariant violated at %s: %s", e.Key, e.Reason)
	for _, s := range e.Snapshot {
		fmt.Fprintf(&b, "; %s total=%s", s.Key(), s.Total.Exact())
	}
	return b.String()
}

// Tx is the transactional store view the propagator works on.
type Tx interface {
	// GetEstimate returns nil, nil when the estimate does not exist.
	GetEstimate(ctx context.Context, key Key) (*PriceEstimate, error)

	// InsertEstimate stores a new estimate with Version 1.
	InsertEstimate(ctx context.Context, e *PriceEstimate) error

	// UpdateEstimate writes every field except Total if the stored version
	// equals e.Version, then increments e.Version.
	UpdateEstimate(ctx context.Context, e *PriceEstimate) error

	// AddToTotal atomically adds delta to the stored total.
	AddToTotal(ctx context.Context, key Key, delta money.Amount) error

	// DeleteEstimate removes an estimate and its parent links.
	DeleteEstimate(ctx context.Context, key Key) error

	// LinkParent records that parent aggregates child. It reports whether
	// the link was new.
	LinkParent(ctx context.Context, child, parent Key) (bool, error)

	// Parents returns the stored direct parents of key.
	Parents(ctx context.Context, key Key) ([]Key, error)

	// Children returns the stored direct children of key.
	Children(ctx context.Context, key Key) ([]Key, error)
}
