package estimate

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

// Propagator applies estimate changes inside a store transaction and keeps
// ancestors consistent. It holds no state of its own.
type Propagator struct {
	graph scope.Graph
}

// NewPropagator returns a Propagator resolving parents through graph.
func NewPropagator(graph scope.Graph) *Propagator {
	return &Propagator{graph: graph}
}

// Ensure returns the estimate for key, creating it and its ancestors when
// missing. New estimates copy threshold and limit from the previous month.
func (p *Propagator) Ensure(ctx context.Context, tx Tx, key Key) (*PriceEstimate, error) {
	e, err := tx.GetEstimate(ctx, key)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return e, nil
	}

	e = New(key)
	prev, err := tx.GetEstimate(ctx, Key{Scope: key.Scope, Month: key.Month.Prev()})
	if err != nil {
		return nil, err
	}
	if prev != nil {
		e.Limit = prev.Limit
		e.Threshold = prev.Threshold
	}
	if err := tx.InsertEstimate(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create estimate %s: %w", key, err)
	}
	if err := p.link(ctx, tx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// link attaches e to the estimates of its graph parents for the same month.
// Scopes unknown to the graph stay unlinked.
func (p *Propagator) link(ctx context.Context, tx Tx, e *PriceEstimate) error {
	parents, err := p.graph.Parents(e.Scope)
	if errors.Is(err, scope.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, ref := range parents {
		pk := Key{Scope: ref, Month: e.Month}
		if _, err := p.Ensure(ctx, tx, pk); err != nil {
			return err
		}
		added, err := tx.LinkParent(ctx, e.Key(), pk)
		if err != nil {
			return fmt.Errorf("failed to link %s to %s: %w", e.Key(), pk, err)
		}
		if added && ref.Kind.Sums(e.Scope.Kind) && !e.Deleted() {
			eff := e.EffectiveLimit()
			if err := p.adjustChildLimit(ctx, tx, pk, nil, &eff, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ancestors returns the stored transitive ancestors of key, each once.
func (p *Propagator) Ancestors(ctx context.Context, tx Tx, key Key) ([]Key, error) {
	seen := map[Key]bool{key: true}
	var out []Key
	queue := []Key{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := tx.Parents(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, pk := range parents {
			if seen[pk] {
				continue
			}
			seen[pk] = true
			out = append(out, pk)
			queue = append(queue, pk)
		}
	}
	return out, nil
}

// ApplyResourceDelta sets the total of a resource estimate and adds the
// change to every ancestor once. It returns the updated estimate and the
// delta applied.
func (p *Propagator) ApplyResourceDelta(ctx context.Context, tx Tx, key Key, total, consumed money.Amount) (*PriceEstimate, money.Amount, error) {
	e, err := p.Ensure(ctx, tx, key)
	if err != nil {
		return nil, 0, err
	}
	if e.Deleted() {
		return nil, 0, fmt.Errorf("%w: %s", ErrFrozen, key)
	}
	delta, err := p.setTotal(ctx, tx, e, total, consumed)
	if err != nil {
		return nil, 0, err
	}
	return e, delta, nil
}

// Restore is ApplyResourceDelta for rebuilds: it also sets the total of a
// frozen estimate. It returns the delta applied.
func (p *Propagator) Restore(ctx context.Context, tx Tx, key Key, total, consumed money.Amount) (money.Amount, error) {
	e, err := p.Ensure(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	return p.setTotal(ctx, tx, e, total, consumed)
}

func (p *Propagator) setTotal(ctx context.Context, tx Tx, e *PriceEstimate, total, consumed money.Amount) (money.Amount, error) {
	key := e.Key()
	delta := total - e.Total
	if delta != 0 {
		if err := p.addToBranch(ctx, tx, key, delta); err != nil {
			return 0, err
		}
	}

	e.Consumed = consumed
	if err := tx.UpdateEstimate(ctx, e); err != nil {
		return 0, fmt.Errorf("failed to update estimate %s: %w", key, err)
	}
	e.Total = total
	return delta, nil
}

// addToBranch adds delta to key and all of its ancestors, then checks that
// none of them went negative.
func (p *Propagator) addToBranch(ctx context.Context, tx Tx, key Key, delta money.Amount) error {
	ancestors, err := p.Ancestors(ctx, tx, key)
	if err != nil {
		return err
	}
	branch := append([]Key{key}, ancestors...)
	for _, k := range branch {
		if err := tx.AddToTotal(ctx, k, delta); err != nil {
			return fmt.Errorf("failed to add to total of %s: %w", k, err)
		}
	}
	if delta > 0 {
		return nil
	}

	for _, k := range branch {
		e, err := tx.GetEstimate(ctx, k)
		if err != nil {
			return err
		}
		if e != nil && e.Total < 0 {
			return p.invariant(ctx, tx, k, fmt.Sprintf("total %s is negative", e.Total.Exact()))
		}
	}
	return nil
}

func (p *Propagator) invariant(ctx context.Context, tx Tx, key Key, reason string) error {
	ie := &InvariantError{Key: key, Reason: reason}
	if e, err := tx.GetEstimate(ctx, key); err == nil && e != nil {
		ie.Snapshot = append(ie.Snapshot, e)
	}
	if children, err := tx.Children(ctx, key); err == nil {
		for _, ck := range children {
			if c, err := tx.GetEstimate(ctx, ck); err == nil && c != nil {
				ie.Snapshot = append(ie.Snapshot, c)
			}
		}
	}
	return ie
}

// Freeze marks the estimate at key as deleted with the given snapshot. Its
// total stays in every ancestor; it stops counting towards their limits.
func (p *Propagator) Freeze(ctx context.Context, tx Tx, key Key, details map[string]string) error {
	e, err := tx.GetEstimate(ctx, key)
	if err != nil || e == nil || e.Deleted() {
		return err
	}

	before := e.EffectiveLimit()
	if details == nil {
		details = map[string]string{}
	}
	e.Details = details
	if err := tx.UpdateEstimate(ctx, e); err != nil {
		return fmt.Errorf("failed to freeze estimate %s: %w", key, err)
	}
	return p.leaveParents(ctx, tx, key, before)
}

// Remove deletes the estimate at key and subtracts its total from every
// ancestor, as if it had never been tracked.
func (p *Propagator) Remove(ctx context.Context, tx Tx, key Key) error {
	e, err := tx.GetEstimate(ctx, key)
	if err != nil || e == nil {
		return err
	}

	if e.Total != 0 {
		ancestors, err := p.Ancestors(ctx, tx, key)
		if err != nil {
			return err
		}
		for _, k := range ancestors {
			if err := tx.AddToTotal(ctx, k, -e.Total); err != nil {
				return fmt.Errorf("failed to subtract from %s: %w", k, err)
			}
		}
	}
	if !e.Deleted() {
		if err := p.leaveParents(ctx, tx, key, e.EffectiveLimit()); err != nil {
			return err
		}
	}
	return tx.DeleteEstimate(ctx, key)
}

func (p *Propagator) leaveParents(ctx context.Context, tx Tx, key Key, eff money.Amount) error {
	parents, err := tx.Parents(ctx, key)
	if err != nil {
		return err
	}
	for _, pk := range parents {
		if !pk.Scope.Kind.Sums(key.Scope.Kind) {
			continue
		}
		if err := p.adjustChildLimit(ctx, tx, pk, &eff, nil, -1); err != nil {
			return err
		}
	}
	return nil
}

// SetLimit sets the administrative limit of key, creating the estimate if
// needed, and updates the aggregated limits above it.
func (p *Propagator) SetLimit(ctx context.Context, tx Tx, key Key, limit money.Amount) (*PriceEstimate, error) {
	if limit < NoLimit {
		return nil, fmt.Errorf("invalid limit %s", limit.Exact())
	}
	e, err := p.Ensure(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	before := e.EffectiveLimit()
	e.Limit = limit
	if err := tx.UpdateEstimate(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to set limit on %s: %w", key, err)
	}
	after := e.EffectiveLimit()
	if before == after || e.Deleted() {
		return e, nil
	}
	return e, p.propagateLimit(ctx, tx, key, before, after)
}

// SetThreshold sets the alert threshold of key, creating the estimate if needed.
func (p *Propagator) SetThreshold(ctx context.Context, tx Tx, key Key, threshold money.Amount) (*PriceEstimate, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("invalid threshold %s", threshold.Exact())
	}
	e, err := p.Ensure(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	e.Threshold = threshold
	if err := tx.UpdateEstimate(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to set threshold on %s: %w", key, err)
	}
	return e, nil
}

func (p *Propagator) propagateLimit(ctx context.Context, tx Tx, key Key, before, after money.Amount) error {
	parents, err := tx.Parents(ctx, key)
	if err != nil {
		return err
	}
	for _, pk := range parents {
		if !pk.Scope.Kind.Sums(key.Scope.Kind) {
			continue
		}
		if err := p.adjustChildLimit(ctx, tx, pk, &before, &after, 0); err != nil {
			return err
		}
	}
	return nil
}

// adjustChildLimit replaces a child's contribution old with updated in the
// aggregate of parent, then carries any change of parent's effective limit
// further up.
func (p *Propagator) adjustChildLimit(ctx context.Context, tx Tx, parent Key, old, updated *money.Amount, countDelta int) error {
	pe, err := tx.GetEstimate(ctx, parent)
	if err != nil || pe == nil {
		return err
	}

	before := pe.EffectiveLimit()
	if old != nil {
		if *old < 0 {
			pe.UnlimitedChildren--
		} else {
			pe.ChildLimitSum -= *old
		}
	}
	if updated != nil {
		if *updated < 0 {
			pe.UnlimitedChildren++
		} else {
			pe.ChildLimitSum += *updated
		}
	}
	pe.ChildCount += countDelta
	if pe.ChildCount < 0 || pe.UnlimitedChildren < 0 || pe.UnlimitedChildren > pe.ChildCount {
		return p.invariant(ctx, tx, parent, "child limit counters out of range")
	}
	if err := tx.UpdateEstimate(ctx, pe); err != nil {
		return fmt.Errorf("failed to update limits of %s: %w", parent, err)
	}

	after := pe.EffectiveLimit()
	if before == after || pe.Deleted() {
		return nil
	}
	return p.propagateLimit(ctx, tx, parent, before, after)
}
