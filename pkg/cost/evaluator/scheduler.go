package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs evaluator ticks on a cron schedule.
type Scheduler struct {
	eval       *Evaluator
	schedule   string
	runOnStart bool
	cron       *cron.Cron
	logger     *slog.Logger

	// ticking is held for the duration of a tick.
	ticking sync.Mutex
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	last    *Result
	lastOK  *time.Time
}

// NewScheduler creates a scheduler for eval. Schedule accepts standard
// five-field cron expressions and descriptors such as "@every 5m". Ticks
// never overlap: a tick due while another one runs is skipped.
func NewScheduler(eval *Evaluator, schedule string, runOnStart bool) *Scheduler {
	logger := eval.logger.With("component", "cost.scheduler")
	return &Scheduler{
		eval:       eval,
		schedule:   schedule,
		runOnStart: runOnStart,
		cron: cron.New(
			cron.WithLocation(eval.tracker.Location()),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		logger: logger,
	}
}

// Start schedules ticks and returns. The scheduler stops when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule evaluator: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Evaluator scheduler started", "schedule", s.schedule)

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick(ctx)
		}()
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunNow performs a tick immediately unless one is already running, in
// which case ok is false.
func (s *Scheduler) RunNow(ctx context.Context) (res Result, ok bool, err error) {
	if !s.ticking.TryLock() {
		return res, false, nil
	}
	defer s.ticking.Unlock()

	res, err = s.eval.Tick(ctx)
	done := time.Now()
	s.mu.Lock()
	s.last = &res
	if err == nil {
		s.lastOK = &done
	}
	s.mu.Unlock()
	return res, true, err
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, ok, err := s.RunNow(ctx)
	if !ok {
		s.logger.WarnContext(ctx, "Previous evaluator tick still running, skipping")
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Evaluator tick failed", "error", err)
		return
	}
	s.logger.DebugContext(ctx, "Evaluator tick completed",
		"month", res.Month.String(),
		"estimates", res.Evaluated,
		"refreshed", res.Refreshed,
	)
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Evaluator scheduler stopped")
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResult returns the result of the most recent tick, or nil.
func (s *Scheduler) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LastSuccess returns when the most recent successful tick finished, or
// nil.
func (s *Scheduler) LastSuccess() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOK
}

// NextRun returns the next scheduled tick, or nil before Start.
func (s *Scheduler) NextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return nil
	}
	next := entries[0].Next
	return &next
}

// cronLogger reports recovered job panics through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
