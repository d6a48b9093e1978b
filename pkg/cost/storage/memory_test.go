package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

var aug = period.New(2016, time.August)

func keyOf(ref scope.Ref) estimate.Key {
	return estimate.Key{Scope: ref, Month: aug}
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	vm := keyOf(scope.Resource("vm1"))
	spl := keyOf(scope.SPL("spl1"))

	t.Run("insert and read back", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			for _, k := range []estimate.Key{vm, spl} {
				e := estimate.New(k)
				if err := tx.InsertEstimate(ctx, e); err != nil {
					return err
				}
				if e.Version != 1 {
					return errors.New("version not set on insert")
				}
			}
			added, err := tx.LinkParent(ctx, vm, spl)
			if err != nil || !added {
				return errors.New("first link should be added")
			}
			added, err = tx.LinkParent(ctx, vm, spl)
			if err != nil || added {
				return errors.New("second link should be a no-op")
			}
			return nil
		})
		require.NoError(t, err)

		err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := tx.GetEstimate(ctx, vm)
			require.NoError(t, err)
			require.NotNil(t, e)
			assert.Equal(t, money.NoLimit, e.Limit)
			assert.Nil(t, e.Details)

			parents, err := tx.Parents(ctx, vm)
			require.NoError(t, err)
			assert.Equal(t, []estimate.Key{spl}, parents)

			children, err := tx.Children(ctx, spl)
			require.NoError(t, err)
			assert.Equal(t, []estimate.Key{vm}, children)

			missing, err := tx.GetEstimate(ctx, keyOf(scope.Resource("nope")))
			require.NoError(t, err)
			assert.Nil(t, missing)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertEstimate(ctx, estimate.New(vm))
		})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("add to total keeps version", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			before, err := tx.GetEstimate(ctx, spl)
			require.NoError(t, err)
			require.NoError(t, tx.AddToTotal(ctx, spl, 500))
			require.NoError(t, tx.AddToTotal(ctx, spl, -200))
			after, err := tx.GetEstimate(ctx, spl)
			require.NoError(t, err)
			assert.Equal(t, money.Amount(300), after.Total)
			assert.Equal(t, before.Version, after.Version)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("update checks version and preserves total", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := tx.GetEstimate(ctx, spl)
			require.NoError(t, err)
			stale := e.Clone()

			e.Total = 999999
			e.Threshold = 7
			e.Details = map[string]string{"name": "gone"}
			require.NoError(t, tx.UpdateEstimate(ctx, e))

			got, err := tx.GetEstimate(ctx, spl)
			require.NoError(t, err)
			assert.Equal(t, money.Amount(300), got.Total)
			assert.Equal(t, money.Amount(7), got.Threshold)
			assert.Equal(t, "gone", got.Details["name"])
			assert.Equal(t, e.Version, got.Version)

			assert.ErrorIs(t, tx.UpdateEstimate(ctx, stale), ErrConflict)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			require.NoError(t, tx.AddToTotal(ctx, spl, 1000))
			require.NoError(t, tx.DeleteEstimate(ctx, vm))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := tx.GetEstimate(ctx, spl)
			require.NoError(t, err)
			assert.Equal(t, money.Amount(300), e.Total)
			v, err := tx.GetEstimate(ctx, vm)
			require.NoError(t, err)
			assert.NotNil(t, v)
			parents, err := tx.Parents(ctx, vm)
			require.NoError(t, err)
			assert.Len(t, parents, 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("consumption round trip", func(t *testing.T) {
		storage := consumption.Item{Type: consumption.ItemStorage, Key: "1 MB"}
		d := &consumption.Details{
			ResourceID:           "vm1",
			Month:                aug,
			ResourceType:         "openstack.instance",
			Service:              "s1",
			Configuration:        consumption.Usage{storage: 20480},
			ConsumedBeforeUpdate: consumption.Usage{storage: 100},
			LastUpdateTime:       time.Date(2016, 8, 8, 11, 0, 0, 0, time.UTC),
		}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.SaveConsumption(ctx, d)
		}))

		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			got, err := tx.GetConsumption(ctx, "vm1", aug)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, got.LastUpdateTime.Equal(d.LastUpdateTime))
			assert.Equal(t, d.Configuration, got.Configuration)
			assert.Equal(t, d.ConsumedBeforeUpdate, got.ConsumedBeforeUpdate)
			assert.Equal(t, "s1", got.Service)

			list, err := tx.ListConsumption(ctx, aug)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, tx.DeleteConsumption(ctx, "vm1"))
			gone, err := tx.GetConsumption(ctx, "vm1", aug)
			require.NoError(t, err)
			assert.Nil(t, gone)
			return nil
		}))
	})

	t.Run("month queries", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			month, ok, err := tx.LatestMonthBefore(ctx, aug.Next())
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, aug, month)

			_, ok, err = tx.LatestMonthBefore(ctx, aug)
			require.NoError(t, err)
			assert.False(t, ok)

			all, err := tx.ListMonth(ctx, aug)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			byScope, err := tx.ListScope(ctx, scope.SPL("spl1"))
			require.NoError(t, err)
			assert.Len(t, byScope, 1)

			require.NoError(t, tx.ResetMonthTotals(ctx, aug))
			e, err := tx.GetEstimate(ctx, spl)
			require.NoError(t, err)
			assert.Equal(t, money.Amount(0), e.Total)
			return nil
		}))
	})

	t.Run("delete removes links", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			require.NoError(t, tx.DeleteEstimate(ctx, vm))
			children, err := tx.Children(ctx, spl)
			require.NoError(t, err)
			assert.Empty(t, children)
			return nil
		}))
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_ExpiredContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := s.WithTx(ctx, func(context.Context, Tx) error { return nil })
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.WithTx(context.Background(), func(context.Context, Tx) error { return nil }), ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}
