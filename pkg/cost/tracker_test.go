package cost_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/cost"
	"mercator-hq/costtrack/pkg/cost/backend"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/cost/storage"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

var (
	storageMB = consumption.Item{Type: consumption.ItemStorage, Key: "1 MB"}
	oneCore   = consumption.Item{Type: consumption.ItemCores, Key: "1 core"}

	aug = period.New(2016, time.August)
	sep = period.New(2016, time.September)
)

func utc(month time.Month, day, hour, min int) time.Time {
	return time.Date(2016, month, day, hour, min, 0, 0, time.UTC)
}

type env struct {
	graph   *scope.MemoryGraph
	store   *storage.MemoryStore
	prices  *catalog.Catalog
	tracker *cost.Tracker
}

// newEnv builds customer c, project p, service s on settings ss, their
// link spl and resources r1 and r2 of type "vm". Storage costs 0.50 and a
// core 1.00 per hour.
func newEnv(t *testing.T, opts ...func(*cost.Config)) *env {
	t.Helper()
	g := scope.NewMemoryGraph()
	require.NoError(t, g.AddCustomer("c", "Acme"))
	require.NoError(t, g.AddProject("p", "Web", "c"))
	require.NoError(t, g.AddServiceSettings("ss", "region-1"))
	require.NoError(t, g.AddService("s", "OpenStack", "c", "ss"))
	require.NoError(t, g.AddSPL("spl", "s", "p"))
	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, g.AddResource(scope.ResourceInfo{ID: id, Name: id, Type: "vm", SPL: "spl", BackendID: "vm-" + id}))
	}

	prices := catalog.New(catalog.NewMemoryRepository())
	ctx := context.Background()
	for _, d := range []catalog.DefaultItem{
		{ResourceKind: "vm", Item: storageMB, Name: "Storage", HourlyRate: 50},
		{ResourceKind: "vm", Item: oneCore, Name: "Core", HourlyRate: 100},
	} {
		_, err := prices.UpsertDefault(ctx, d)
		require.NoError(t, err)
	}

	e := &env{graph: g, store: storage.NewMemoryStore(), prices: prices}
	e.tracker = e.newTracker(t, opts...)
	return e
}

func (e *env) newTracker(t *testing.T, opts ...func(*cost.Config)) *cost.Tracker {
	t.Helper()
	cfg := cost.Config{Store: e.store, Catalog: e.prices, Graph: e.graph}
	for _, opt := range opts {
		opt(&cfg)
	}
	tr, err := cost.New(cfg)
	require.NoError(t, err)
	return tr
}

func (e *env) estimate(t *testing.T, ref scope.Ref, month period.Month) *estimate.PriceEstimate {
	t.Helper()
	all, err := e.tracker.Estimates(context.Background(), ref)
	require.NoError(t, err)
	for _, est := range all {
		if est.Month == month {
			return est
		}
	}
	t.Fatalf("no estimate for %s in %s", ref, month)
	return nil
}

func (e *env) noViolations(t *testing.T, month period.Month) {
	t.Helper()
	violations, err := e.tracker.Verify(context.Background(), month)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

var ancestors = []scope.Ref{
	scope.SPL("spl"),
	scope.Service("s"),
	scope.Settings("ss"),
	scope.Project("p"),
	scope.Customer("c"),
}

func TestTracker_SingleResourceMonth(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{storageMB: 20480}, utc(time.August, 8, 11, 0))
	require.NoError(t, err)

	// Aug 8 11:00 to Aug 31 23:59:59 is 33 899 whole minutes.
	want := money.Cost(50, 20480*33899)
	r := e.estimate(t, scope.Resource("r1"), aug)
	assert.Equal(t, want, r.Total)
	assert.Equal(t, "5785429.33", r.Total.String())
	assert.Zero(t, r.Consumed)
	for _, ref := range ancestors {
		assert.Equal(t, want, e.estimate(t, ref, aug).Total, ref.String())
	}
	e.noViolations(t, aug)
}

func TestTracker_MidMonthReconfiguration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{storageMB: 20480}, utc(time.August, 8, 11, 0))
	require.NoError(t, err)
	r, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{storageMB: 40960}, utc(time.August, 9, 13, 0))
	require.NoError(t, err)

	d, err := e.tracker.Consumption(ctx, "r1", aug)
	require.NoError(t, err)
	assert.Equal(t, int64(1560*20480), d.ConsumedBeforeUpdate[storageMB])
	assert.Equal(t, int64(31948800), d.ConsumedBeforeUpdate[storageMB])

	// 32 339 minutes remain after Aug 9 13:00.
	want := money.Cost(50, 31948800+40960*32339)
	assert.Equal(t, want, r.Total)
	assert.Equal(t, "11304618.67", r.Total.String())
	assert.Equal(t, money.Cost(50, 31948800), r.Consumed)
	for _, ref := range ancestors {
		assert.Equal(t, want, e.estimate(t, ref, aug).Total, ref.String())
	}
	e.noViolations(t, aug)
}

func TestTracker_DeletionFreezesConsumedCost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{storageMB: 20480}, utc(time.August, 8, 11, 0))
	require.NoError(t, err)
	_, err = e.tracker.UpdateResource(ctx, "r1", consumption.Usage{storageMB: 40960}, utc(time.August, 9, 13, 0))
	require.NoError(t, err)
	require.NoError(t, e.tracker.DeleteResource(ctx, "r1", utc(time.August, 10, 13, 0)))

	want := money.Cost(50, 1560*20480+1440*40960)
	assert.Equal(t, "757760.00", want.String())

	r := e.estimate(t, scope.Resource("r1"), aug)
	assert.True(t, r.Deleted())
	assert.Equal(t, want, r.Total)
	assert.Equal(t, "r1", r.Details["name"])
	assert.Equal(t, "vm-r1", r.Details["backend_id"])
	for _, ref := range ancestors {
		assert.Equal(t, want, e.estimate(t, ref, aug).Total, ref.String())
	}
	e.noViolations(t, aug)

	_, err = e.tracker.UpdateResource(ctx, "r1", consumption.Usage{storageMB: 1}, utc(time.August, 11, 0, 0))
	assert.ErrorIs(t, err, cost.ErrUnknownScope)
	assert.Equal(t, cost.ClassRejected, cost.Classify(err))
}

func TestTracker_LimitAggregationFollowsDeletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := utc(time.August, 8, 11, 0)

	for _, id := range []string{"r1", "r2"} {
		_, err := e.tracker.UpdateResource(ctx, id, consumption.Usage{oneCore: 1}, at)
		require.NoError(t, err)
	}
	_, err := e.tracker.SetLimit(ctx, scope.Resource("r2"), aug, 50*money.One)
	require.NoError(t, err)

	assert.Equal(t, estimate.NoLimit, e.estimate(t, scope.Project("p"), aug).EffectiveLimit())

	require.NoError(t, e.tracker.DeleteResource(ctx, "r1", at.Add(time.Hour)))
	assert.Equal(t, 50*money.One, e.estimate(t, scope.Project("p"), aug).EffectiveLimit())
	assert.Equal(t, 50*money.One, e.estimate(t, scope.Customer("c"), aug).EffectiveLimit())
	e.noViolations(t, aug)
}

func TestTracker_RolloverCarriesAdministrativeFields(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 4}, utc(time.August, 20, 0, 0))
	require.NoError(t, err)
	_, err = e.tracker.SetThreshold(ctx, scope.Project("p"), aug, 200*money.One)
	require.NoError(t, err)
	_, err = e.tracker.SetLimit(ctx, scope.Project("p"), aug, 1000*money.One)
	require.NoError(t, err)

	res, err := e.tracker.Rollover(ctx, time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []period.Month{sep}, res.Months)
	assert.Equal(t, 1, res.Resources)
	assert.Empty(t, res.Failed)

	p := e.estimate(t, scope.Project("p"), sep)
	assert.Equal(t, 200*money.One, p.Threshold)
	assert.Equal(t, 1000*money.One, p.Limit)

	// Sep 1 00:00 to Sep 30 23:59:59 is 43 199 minutes.
	want := money.Cost(100, 4*43199)
	assert.Equal(t, "2879.93", want.String())
	assert.Equal(t, want, e.estimate(t, scope.Resource("r1"), sep).Total)
	for _, ref := range ancestors {
		assert.Equal(t, want, e.estimate(t, ref, sep).Total, ref.String())
	}
	e.noViolations(t, sep)

	again, err := e.tracker.Rollover(ctx, time.Date(2016, 9, 1, 0, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, again.Resources)
	assert.Zero(t, again.Scopes)
}

func TestTracker_RolloverFillsMissingMonths(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 20, 0, 0))
	require.NoError(t, err)

	res, err := e.tracker.Rollover(ctx, time.Date(2016, 11, 3, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []period.Month{sep, sep.Next(), sep.Next().Next()}, res.Months)
	assert.Equal(t, 3, res.Resources)

	oct := e.estimate(t, scope.Resource("r1"), sep.Next())
	assert.Equal(t, money.Cost(100, 31*24*60-1), oct.Total)
}

func TestTracker_RolloverSkipsDeletedScopes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		_, err := e.tracker.UpdateResource(ctx, id, consumption.Usage{oneCore: 1}, utc(time.August, 20, 0, 0))
		require.NoError(t, err)
	}
	require.NoError(t, e.tracker.DeleteResource(ctx, "r2", utc(time.August, 25, 0, 0)))

	res, err := e.tracker.Rollover(ctx, time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resources)

	r2, err := e.tracker.Estimates(ctx, scope.Resource("r2"))
	require.NoError(t, err)
	require.Len(t, r2, 1)
	assert.Equal(t, aug, r2[0].Month)
	e.noViolations(t, sep)
}

func TestTracker_SiblingOrderDoesNotMatter(t *testing.T) {
	apply := func(order []string) map[scope.Ref]money.Amount {
		e := newEnv(t)
		ctx := context.Background()
		configs := map[string]consumption.Usage{
			"r1": {storageMB: 1024, oneCore: 2},
			"r2": {oneCore: 8},
		}
		for i, id := range order {
			_, err := e.tracker.UpdateResource(ctx, id, configs[id], utc(time.August, 3, 9, i))
			require.NoError(t, err)
		}
		out := map[scope.Ref]money.Amount{}
		for _, ref := range ancestors {
			out[ref] = e.estimate(t, ref, aug).Total
		}
		e.noViolations(t, aug)
		return out
	}

	assert.Equal(t, apply([]string{"r1", "r2"}), apply([]string{"r2", "r1"}))
}

func TestTracker_ConcurrentResourcesStayConsistent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"r1", "r2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				_, err := e.tracker.UpdateResource(ctx, id, consumption.Usage{oneCore: int64(i)}, utc(time.August, 1, 0, i))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	sum := e.estimate(t, scope.Resource("r1"), aug).Total + e.estimate(t, scope.Resource("r2"), aug).Total
	assert.Equal(t, sum, e.estimate(t, scope.Customer("c"), aug).Total)
	e.noViolations(t, aug)
}

func TestTracker_RebuildReproducesEventTotals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	steps := []struct {
		id     string
		config consumption.Usage
		at     time.Time
	}{
		{"r1", consumption.Usage{storageMB: 20480}, utc(time.August, 8, 11, 0)},
		{"r2", consumption.Usage{oneCore: 2}, utc(time.August, 8, 12, 30)},
		{"r1", consumption.Usage{storageMB: 40960, oneCore: 1}, utc(time.August, 9, 13, 0)},
		{"r2", consumption.Usage{oneCore: 3}, utc(time.August, 12, 7, 45)},
	}
	for _, s := range steps {
		_, err := e.tracker.UpdateResource(ctx, s.id, s.config, s.at)
		require.NoError(t, err)
	}
	require.NoError(t, e.tracker.DeleteResource(ctx, "r2", utc(time.August, 20, 0, 0)))

	before, err := e.tracker.MonthEstimates(ctx, aug)
	require.NoError(t, err)

	res, err := e.tracker.Rebuild(ctx, aug)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rebuilt)
	assert.False(t, res.Partial())
	assert.Empty(t, res.Violations)

	after, err := e.tracker.MonthEstimates(ctx, aug)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Key(), after[i].Key())
		assert.Equal(t, before[i].Total, after[i].Total, before[i].Key().String())
		assert.Equal(t, before[i].Deleted(), after[i].Deleted())
	}
}

func TestTracker_StaleEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 9, 13, 0))
	require.NoError(t, err)

	_, err = e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, utc(time.August, 9, 12, 0))
	assert.ErrorIs(t, err, cost.ErrStaleEvent)
	assert.Equal(t, cost.ClassTemporal, cost.Classify(err))

	// A restarted tracker still rejects the event from the stored record.
	restarted := e.newTracker(t)
	_, err = restarted.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, utc(time.August, 9, 12, 0))
	assert.ErrorIs(t, err, cost.ErrStaleEvent)

	// Same minute is not stale.
	_, err = e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, time.Date(2016, 8, 9, 13, 0, 40, 0, time.UTC))
	assert.NoError(t, err)
}

func TestTracker_UpdateAfterRolloverIsPastMonth(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 20, 0, 0))
	require.NoError(t, err)
	_, err = e.tracker.Rollover(ctx, utc(time.September, 1, 0, 5))
	require.NoError(t, err)

	_, err = e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, utc(time.August, 31, 23, 0))
	assert.ErrorIs(t, err, consumption.ErrUpdatePastMonth)
	assert.Equal(t, cost.ClassTemporal, cost.Classify(err))
}

func TestTracker_FirstEventOfMonthContinuesPreviousConfiguration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 20, 0, 0))
	require.NoError(t, err)
	_, err = e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, utc(time.September, 2, 0, 0))
	require.NoError(t, err)

	d, err := e.tracker.Consumption(ctx, "r1", sep)
	require.NoError(t, err)
	assert.Equal(t, int64(2*24*60), d.ConsumedBeforeUpdate[oneCore])
	assert.Equal(t, int64(2), d.Configuration[oneCore])
}

func TestTracker_ErrorPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy cost.ErrorPolicy
		want   money.Amount
	}{
		{"freeze", cost.ErrorPolicyFreeze, money.Cost(100, 2*24*60)},
		{"continue", cost.ErrorPolicyContinue, money.Cost(100, 2*(24*60*22-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, func(c *cost.Config) { c.ErrorPolicy = tt.policy })
			ctx := context.Background()

			_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, utc(time.August, 10, 0, 0))
			require.NoError(t, err)
			require.NoError(t, e.tracker.MarkErred(ctx, "r1", utc(time.August, 11, 0, 0)))

			assert.Equal(t, tt.want, e.estimate(t, scope.Resource("r1"), aug).Total)
		})
	}
}

func TestTracker_UnlinkRemovesEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 2}, utc(time.August, 10, 0, 0))
	require.NoError(t, err)
	r2, err := e.tracker.UpdateResource(ctx, "r2", consumption.Usage{oneCore: 1}, utc(time.August, 10, 0, 0))
	require.NoError(t, err)

	require.NoError(t, e.tracker.UnlinkResource(ctx, "r1"))

	gone, err := e.tracker.Estimates(ctx, scope.Resource("r1"))
	require.NoError(t, err)
	assert.Empty(t, gone)
	d, err := e.tracker.Consumption(ctx, "r1", aug)
	require.NoError(t, err)
	assert.Nil(t, d)

	for _, ref := range ancestors {
		assert.Equal(t, r2.Total, e.estimate(t, ref, aug).Total, ref.String())
	}
	assert.Equal(t, 1, e.estimate(t, scope.SPL("spl"), aug).ChildCount)
	assert.False(t, e.graph.Exists(scope.Resource("r1")))
	e.noViolations(t, aug)
}

func TestTracker_DeleteScopeFreezesEveryMonth(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 20, 0, 0))
	require.NoError(t, err)
	_, err = e.tracker.Rollover(ctx, utc(time.September, 1, 0, 0))
	require.NoError(t, err)

	require.NoError(t, e.tracker.DeleteScope(ctx, scope.Project("p"), utc(time.September, 3, 0, 0)))

	all, err := e.tracker.Estimates(ctx, scope.Project("p"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, est := range all {
		assert.True(t, est.Deleted(), est.Key().String())
		assert.Equal(t, "Web", est.Details["name"])
		assert.Equal(t, "project", est.Details["scope_type"])
	}
	assert.NotZero(t, e.estimate(t, scope.Customer("c"), sep).Total)

	// The link and resources under the project go with it; r1 is charged
	// up to the deletion.
	r1 := e.estimate(t, scope.Resource("r1"), sep)
	assert.True(t, r1.Deleted())
	assert.Equal(t, money.Cost(100, 2*24*60), r1.Total)
	assert.True(t, e.estimate(t, scope.SPL("spl"), sep).Deleted())
	assert.Equal(t, r1.Total, e.estimate(t, scope.Customer("c"), sep).Total)
	for _, ref := range []scope.Ref{scope.SPL("spl"), scope.Resource("r1"), scope.Resource("r2")} {
		assert.False(t, e.graph.Exists(ref), ref.String())
	}
	assert.True(t, e.graph.Exists(scope.Service("s")))
	assert.False(t, e.estimate(t, scope.Service("s"), sep).Deleted())
	e.noViolations(t, sep)

	err = e.tracker.DeleteScope(ctx, scope.Project("p"), utc(time.September, 3, 0, 0))
	assert.ErrorIs(t, err, cost.ErrUnknownScope)
}

func TestTracker_VerifyReportsMissingAncestorLinks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 10, 0, 0))
	require.NoError(t, err)
	e.noViolations(t, aug)

	// Move r1 under a project its estimates were never linked to.
	require.NoError(t, e.graph.AddProject("p2", "Batch", "c"))
	require.NoError(t, e.graph.AddSPL("spl2", "s", "p2"))
	require.NoError(t, e.graph.AddResource(scope.ResourceInfo{ID: "r1", Name: "r1", Type: "vm", SPL: "spl2"}))

	violations, err := e.tracker.Verify(ctx, aug)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, scope.Resource("r1"), violations[0].Key.Scope)
	assert.Equal(t, "ancestor_links", violations[0].Check)
	assert.Contains(t, violations[0].Message, scope.SPL("spl2").String())
	assert.Contains(t, violations[0].Message, scope.Project("p2").String())
	assert.NotContains(t, violations[0].Message, scope.Customer("c").String())
}

func TestTracker_ImportHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	config := consumption.Usage{oneCore: 2}

	n, err := e.tracker.ImportHistory(ctx, "r1", time.Date(2016, 6, 15, 8, 30, 0, 0, time.UTC), config, utc(time.August, 8, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	jun := period.New(2016, time.June)
	jul := period.New(2016, time.July)

	// Jun 15 08:30 to Jun 30 23:59:59 is 22 529 minutes.
	junEst := e.estimate(t, scope.Resource("r1"), jun)
	assert.Equal(t, money.Cost(100, 2*22529), junEst.Total)
	assert.Equal(t, junEst.Total, junEst.Consumed)
	assert.Equal(t, money.Cost(100, 2*44639), e.estimate(t, scope.Resource("r1"), jul).Total)

	augEst := e.estimate(t, scope.Resource("r1"), aug)
	assert.Equal(t, money.Cost(100, 2*44639), augEst.Total)
	assert.Equal(t, money.Cost(100, 2*(7*24*60+11*60)), augEst.Consumed)

	for _, m := range []period.Month{jun, jul, aug} {
		assert.Equal(t, e.estimate(t, scope.Resource("r1"), m).Total, e.estimate(t, scope.Customer("c"), m).Total, m.String())
		e.noViolations(t, m)
	}

	again, err := e.tracker.ImportHistory(ctx, "r1", time.Date(2016, 6, 15, 8, 30, 0, 0, time.UTC), config, utc(time.August, 8, 12, 0))
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestTracker_AdminEdits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.tracker.SetThreshold(ctx, scope.Project("p"), aug, 100*money.One)
	require.NoError(t, err)
	assert.Equal(t, 100*money.One, p.Threshold)

	_, err = e.tracker.SetThreshold(ctx, scope.Project("p"), aug, -1)
	assert.Error(t, err)

	_, err = e.tracker.SetLimit(ctx, scope.Project("nope"), aug, 10)
	assert.ErrorIs(t, err, cost.ErrUnknownScope)

	_, err = e.tracker.SetLimit(ctx, scope.SPL("spl"), aug, 30*money.One)
	require.NoError(t, err)
	assert.Equal(t, 30*money.One, e.estimate(t, scope.Project("p"), aug).EffectiveLimit())
}

func TestTracker_AuthoritativeBackend(t *testing.T) {
	adapter := backend.NewAuthoritativeAdapter()
	adapter.SetMonthlyCost("r1", 42*money.One)
	reg := backend.NewRegistry()
	reg.Register("vm", adapter)

	e := newEnv(t, func(c *cost.Config) { c.Backends = reg })
	ctx := context.Background()

	r, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 100}, utc(time.August, 10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 42*money.One, r.Total)
	assert.Equal(t, 42*money.One, e.estimate(t, scope.Customer("c"), aug).Total)

	// Deletion keeps the provider's figure.
	require.NoError(t, e.tracker.DeleteResource(ctx, "r1", utc(time.August, 12, 0, 0)))
	assert.Equal(t, 42*money.One, e.estimate(t, scope.Resource("r1"), aug).Total)
}

// countingAdapter counts monthly cost reads and fails them on demand.
type countingAdapter struct {
	*backend.AuthoritativeAdapter
	mu    sync.Mutex
	calls int
	down  bool
}

func (a *countingAdapter) GetMonthlyCostEstimate(ctx context.Context, resource scope.ResourceInfo) (money.Amount, error) {
	a.mu.Lock()
	a.calls++
	down := a.down
	a.mu.Unlock()
	if down {
		return 0, errors.New("provider unavailable")
	}
	return a.AuthoritativeAdapter.GetMonthlyCostEstimate(ctx, resource)
}

func TestTracker_RolloverRerunSkipsCarriedResources(t *testing.T) {
	adapter := &countingAdapter{AuthoritativeAdapter: backend.NewAuthoritativeAdapter()}
	adapter.SetMonthlyCost("r1", 42*money.One)
	reg := backend.NewRegistry()
	reg.Register("vm", adapter)

	e := newEnv(t, func(c *cost.Config) { c.Backends = reg })
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 1}, utc(time.August, 10, 0, 0))
	require.NoError(t, err)
	res, err := e.tracker.Rollover(ctx, utc(time.September, 2, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resources)

	adapter.mu.Lock()
	adapter.calls, adapter.down = 0, true
	adapter.mu.Unlock()

	again, err := e.tracker.Rollover(ctx, utc(time.September, 3, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, again.Failed)
	assert.Empty(t, again.Months)
	assert.Zero(t, again.Resources)
	assert.Zero(t, adapter.calls)
	assert.Equal(t, 42*money.One, e.estimate(t, scope.Resource("r1"), sep).Total)
}

func TestTracker_SyncResources(t *testing.T) {
	adapter := backend.NewStaticAdapter()
	adapter.Set("r1", consumption.Usage{oneCore: 2})
	reg := backend.NewRegistry()
	reg.Register("vm", adapter)

	e := newEnv(t, func(c *cost.Config) { c.Backends = reg })
	ctx := context.Background()

	res, err := e.tracker.SyncResources(ctx, utc(time.August, 10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"r2"}, res.Failed)

	r1 := e.estimate(t, scope.Resource("r1"), aug)
	assert.Equal(t, money.Cost(100, 2*(22*24*60-1)), r1.Total)

	// Unchanged configurations are left alone.
	res, err = e.tracker.SyncResources(ctx, utc(time.August, 11, 0, 0))
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}

func TestTracker_RefreshConsumed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.UpdateResource(ctx, "r1", consumption.Usage{oneCore: 3}, utc(time.August, 10, 0, 0))
	require.NoError(t, err)

	n, err := e.tracker.RefreshConsumed(ctx, utc(time.August, 10, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, money.Cost(100, 3*120), e.estimate(t, scope.Resource("r1"), aug).Consumed)

	n, err = e.tracker.RefreshConsumed(ctx, utc(time.August, 10, 2, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNew_Validation(t *testing.T) {
	_, err := cost.New(cost.Config{})
	assert.Error(t, err)

	e := newEnv(t)
	_, err = cost.New(cost.Config{Store: e.store, Catalog: e.prices, Graph: e.graph, ErrorPolicy: "ignore"})
	assert.Error(t, err)
}
