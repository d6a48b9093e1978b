// Package evaluator runs the periodic cost tick: it rolls estimates into
// new months, refreshes consumed-so-far figures, optionally re-reads
// resource consumables, and manages threshold alerts and limit
// notifications for the current month.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/costtrack/pkg/cost"
	"mercator-hq/costtrack/pkg/cost/alerts"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
	"mercator-hq/costtrack/pkg/telemetry/logging"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// Config contains the collaborators of an Evaluator.
type Config struct {
	// Tracker owns the estimates. Required.
	Tracker *cost.Tracker

	// Alerts stores threshold and limit alerts. Required.
	Alerts alerts.Sink

	// Notifier receives limit events. Default: LogNotifier
	Notifier alerts.Notifier

	// Severity of threshold alerts. Default: warning
	Severity alerts.Severity

	// SyncResources re-reads consumables from the backend adapters on
	// every tick.
	SyncResources bool

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Evaluator performs evaluator ticks. Ticks must not overlap; the
// Scheduler guarantees that.
type Evaluator struct {
	tracker  *cost.Tracker
	alerts   alerts.Sink
	notifier alerts.Notifier
	severity alerts.Severity
	sync     bool
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an Evaluator.
func New(cfg Config) (*Evaluator, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("tracker is required")
	}
	if cfg.Alerts == nil {
		return nil, errors.New("alert sink is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = alerts.LogNotifier{Logger: cfg.Logger}
	}
	if cfg.Severity == "" {
		cfg.Severity = alerts.SeverityWarning
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("costtrack")
	}

	return &Evaluator{
		tracker:  cfg.Tracker,
		alerts:   cfg.Alerts,
		notifier: cfg.Notifier,
		severity: cfg.Severity,
		sync:     cfg.SyncResources,
		logger:   cfg.Logger.With("component", "cost.evaluator"),
		tracer:   cfg.Tracer,
	}, nil
}

// Result summarizes one tick.
type Result struct {
	Month     period.Month
	Rollover  cost.RolloverResult
	Sync      *cost.SyncResult
	Refreshed int

	// Evaluated is the number of live estimates checked.
	Evaluated int

	Opened         int
	Closed         int
	LimitsExceeded int
	LimitsCleared  int
}

// Changed reports whether the tick opened, closed or notified anything.
func (r Result) Changed() bool {
	return r.Opened+r.Closed+r.LimitsExceeded+r.LimitsCleared > 0
}

// Tick runs one evaluation at the tracker's current time.
func (e *Evaluator) Tick(ctx context.Context) (Result, error) {
	return e.Run(ctx, e.tracker.Now())
}

// Run performs the tick steps for now in order: rollover, resource sync,
// consumed refresh, alert evaluation. A failed rollover aborts the tick
// since the current month may lack estimates; failures of the later steps
// are logged and returned after the evaluation has run.
func (e *Evaluator) Run(ctx context.Context, now time.Time) (res Result, err error) {
	ctx = logging.WithRunID(ctx, fmt.Sprintf("eval-%d", now.Unix()))
	ctx, span := e.tracer.Start(ctx, "evaluator.Tick")
	defer func() { tracing.End(span, err) }()

	res.Month = period.Of(now.In(e.tracker.Location()))

	res.Rollover, err = e.tracker.Rollover(ctx, now)
	if err != nil {
		return res, fmt.Errorf("rollover failed: %w", err)
	}

	var errs []error
	if e.sync {
		sr, err := e.tracker.SyncResources(ctx, now)
		res.Sync = &sr
		if err != nil {
			if cost.Classify(err) == cost.ClassInvariant {
				return res, err
			}
			errs = append(errs, fmt.Errorf("resource sync failed: %w", err))
		}
	}

	res.Refreshed, err = e.tracker.RefreshConsumed(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("consumed refresh failed: %w", err))
	}

	if err := e.evaluate(ctx, res.Month, now, &res); err != nil {
		errs = append(errs, err)
	}

	span.SetAttributes(
		tracing.Month(res.Month.String()),
		tracing.Count("evaluator.estimates", res.Evaluated),
		tracing.Count("evaluator.opened", res.Opened),
		tracing.Count("evaluator.closed", res.Closed),
	)
	if res.Changed() {
		e.logger.InfoContext(ctx, "Evaluated estimates",
			"month", res.Month.String(),
			"estimates", res.Evaluated,
			"opened", res.Opened,
			"closed", res.Closed,
			"limits_exceeded", res.LimitsExceeded,
		)
	}
	return res, errors.Join(errs...)
}

// evaluate applies the alert rules to every estimate of month and closes
// alerts on scopes that no longer have a live estimate.
func (e *Evaluator) evaluate(ctx context.Context, month period.Month, now time.Time, res *Result) error {
	all, err := e.tracker.MonthEstimates(ctx, month)
	if err != nil {
		return fmt.Errorf("failed to list estimates of %s: %w", month, err)
	}
	e.tracker.Metrics().SetTotals(all)

	live := make(map[scope.Ref]bool, len(all))
	var errs []error
	for _, est := range all {
		if est.Deleted() {
			continue
		}
		live[est.Scope] = true
		res.Evaluated++
		if err := e.checkThreshold(ctx, est, res); err != nil {
			errs = append(errs, err)
		}
		if err := e.checkLimit(ctx, est, now, res); err != nil {
			errs = append(errs, err)
		}
	}

	for _, alertType := range []string{alerts.TypeThresholdExceeded, alerts.TypeLimitExceeded} {
		open, err := e.alerts.ListOpen(ctx, alertType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, a := range open {
			if live[a.Scope] {
				continue
			}
			closed, err := e.alerts.Close(ctx, a.Scope, alertType)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if closed {
				e.tracker.Metrics().RecordAlert("closed")
				e.logger.InfoContext(logging.WithScope(ctx, a.Scope.String()), "Closed alert of vanished scope", "type", alertType)
			}
		}
	}
	return errors.Join(errs...)
}

// checkThreshold keeps the threshold alert in step with the estimate. A
// cleared threshold closes the alert like a total that fell back under it.
func (e *Evaluator) checkThreshold(ctx context.Context, est *estimate.PriceEstimate, res *Result) error {
	ctx = logging.WithScope(ctx, est.Scope.String())

	if est.OverThreshold() {
		msg := fmt.Sprintf("%s total %s reached threshold %s in %s", est.Scope, est.Total, est.Threshold, est.Month)
		opened, err := e.alerts.Open(ctx, est.Scope, alerts.TypeThresholdExceeded, e.severity, msg)
		if err != nil {
			return fmt.Errorf("failed to open alert on %s: %w", est.Scope, err)
		}
		if opened {
			res.Opened++
			e.tracker.Metrics().RecordAlert("opened")
			e.logger.WarnContext(ctx, "Estimate exceeded threshold",
				"total", est.Total.String(),
				"threshold", est.Threshold.String(),
			)
		}
		return nil
	}

	closed, err := e.alerts.Close(ctx, est.Scope, alerts.TypeThresholdExceeded)
	if err != nil {
		return fmt.Errorf("failed to close alert on %s: %w", est.Scope, err)
	}
	if !closed {
		return nil
	}
	res.Closed++
	e.tracker.Metrics().RecordAlert("closed")
	if est.Threshold <= 0 {
		e.logger.InfoContext(ctx, "Threshold cleared", "total", est.Total.String())
		return nil
	}
	e.logger.InfoContext(ctx, "Estimate back under threshold",
		"total", est.Total.String(),
		"threshold", est.Threshold.String(),
	)
	return nil
}

// checkLimit notifies once per crossing: the open limit alert marks that
// the notifier has been told, and closing it re-arms the notification.
func (e *Evaluator) checkLimit(ctx context.Context, est *estimate.PriceEstimate, now time.Time, res *Result) error {
	ctx = logging.WithScope(ctx, est.Scope.String())

	if !est.OverLimit() {
		closed, err := e.alerts.Close(ctx, est.Scope, alerts.TypeLimitExceeded)
		if err != nil {
			return fmt.Errorf("failed to clear limit on %s: %w", est.Scope, err)
		}
		if closed {
			res.LimitsCleared++
		}
		return nil
	}

	limit := est.EffectiveLimit()
	msg := fmt.Sprintf("%s total %s reached limit %s in %s", est.Scope, est.Total, limit, est.Month)
	opened, err := e.alerts.Open(ctx, est.Scope, alerts.TypeLimitExceeded, alerts.SeverityError, msg)
	if err != nil {
		return fmt.Errorf("failed to record limit on %s: %w", est.Scope, err)
	}
	if !opened {
		return nil
	}

	ev := alerts.LimitEvent{Scope: est.Scope, Month: est.Month, Total: est.Total, Limit: limit, At: now}
	if err := e.notifier.LimitExceeded(ctx, ev); err != nil {
		// Re-arm so the next tick retries the notification.
		if _, cerr := e.alerts.Close(ctx, est.Scope, alerts.TypeLimitExceeded); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return fmt.Errorf("failed to notify limit on %s: %w", est.Scope, err)
	}
	res.LimitsExceeded++
	e.tracker.Metrics().RecordLimitExceeded()
	return nil
}
