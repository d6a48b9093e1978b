package estimate

import (
	"context"
	"fmt"

	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

// Violation is one inconsistency found by Verify.
type Violation struct {
	Key     Key
	Check   string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.Key, v.Check, v.Message)
}

// Verify checks the stored aggregation invariants of estimates: totals are
// non-negative, non-leaf totals equal the sum of their summed children,
// limit counters match the live children, and live non-root estimates are
// linked to a parent.
func Verify(ctx context.Context, tx Tx, estimates []*PriceEstimate) ([]Violation, error) {
	var out []Violation
	for _, e := range estimates {
		key := e.Key()
		if e.Total < 0 {
			out = append(out, Violation{Key: key, Check: "negative_total", Message: e.Total.Exact()})
		}

		if needsParent(e.Scope.Kind) && !e.Deleted() {
			parents, err := tx.Parents(ctx, key)
			if err != nil {
				return nil, err
			}
			if len(parents) == 0 {
				out = append(out, Violation{Key: key, Check: "orphan", Message: "no parent estimate"})
			}
		}

		childKind, ok := e.Scope.Kind.SummedChild()
		if !ok {
			continue
		}
		children, err := tx.Children(ctx, key)
		if err != nil {
			return nil, err
		}

		var (
			sum       money.Amount
			count     int
			unlimited int
			limitSum  money.Amount
		)
		for _, ck := range children {
			if ck.Scope.Kind != childKind {
				continue
			}
			c, err := tx.GetEstimate(ctx, ck)
			if err != nil {
				return nil, err
			}
			if c == nil {
				out = append(out, Violation{Key: key, Check: "dangling_child", Message: ck.String()})
				continue
			}
			sum += c.Total
			if c.Deleted() {
				continue
			}
			count++
			if lim := c.EffectiveLimit(); lim < 0 {
				unlimited++
			} else {
				limitSum += lim
			}
		}

		if sum != e.Total {
			out = append(out, Violation{
				Key:     key,
				Check:   "sum_mismatch",
				Message: fmt.Sprintf("total %s, children sum to %s", e.Total.Exact(), sum.Exact()),
			})
		}
		if count != e.ChildCount || unlimited != e.UnlimitedChildren || limitSum != e.ChildLimitSum {
			out = append(out, Violation{
				Key:   key,
				Check: "limit_aggregate",
				Message: fmt.Sprintf("stored %d/%d/%s, recomputed %d/%d/%s",
					e.ChildCount, e.UnlimitedChildren, e.ChildLimitSum.Exact(),
					count, unlimited, limitSum.Exact()),
			})
		}
	}
	return out, nil
}

func needsParent(k scope.Kind) bool {
	return k != scope.KindCustomer && k != scope.KindServiceSettings
}
