package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/cost"
	"mercator-hq/costtrack/pkg/cost/alerts"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/storage"
	"mercator-hq/costtrack/pkg/scope"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	tr, err := cost.New(cost.Config{
		Store:   storage.NewMemoryStore(),
		Catalog: catalog.New(catalog.NewMemoryRepository()),
		Graph:   scope.NewMemoryGraph(),
	})
	require.NoError(t, err)

	eval, err := New(Config{Tracker: tr, Alerts: alerts.NewMemorySink()})
	require.NoError(t, err)
	return eval
}

func TestScheduler_RunOnStart(t *testing.T) {
	s := NewScheduler(newEvaluator(t), "@every 1h", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return s.LastResult() != nil }, 5*time.Second, 10*time.Millisecond)

	next := s.NextRun()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *next, time.Minute)

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestScheduler_StopsWithContext(t *testing.T) {
	s := NewScheduler(newEvaluator(t), "*/5 * * * *", false)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !s.IsRunning() }, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, s.LastResult())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(newEvaluator(t), "every now and then", false)
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestScheduler_RunNowSkipsOverlap(t *testing.T) {
	s := NewScheduler(newEvaluator(t), "@every 1h", false)

	s.ticking.Lock()
	_, ok, err := s.RunNow(context.Background())
	s.ticking.Unlock()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s.LastSuccess())

	res, ok, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, res.Evaluated)
	assert.Equal(t, &res, s.LastResult())
	assert.NotNil(t, s.LastSuccess())
}
