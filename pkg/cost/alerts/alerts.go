// Package alerts records threshold alerts on scopes and delivers limit
// notifications.
package alerts

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

// TypeThresholdExceeded is the alert type opened when an estimate reaches
// its threshold.
const TypeThresholdExceeded = "threshold_exceeded"

// TypeLimitExceeded marks an estimate whose total reached its effective
// limit. The open alert records that the Notifier has been told.
const TypeLimitExceeded = "limit_exceeded"

// Severity of an alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity maps a configuration string to a Severity, defaulting to
// warning.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityError:
		return Severity(s)
	}
	return SeverityWarning
}

// Alert is an open or closed alert on a scope.
type Alert struct {
	ID       uuid.UUID
	Scope    scope.Ref
	Type     string
	Severity Severity
	Message  string
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Sink stores alerts. At most one alert per (scope, type) is open at a time.
type Sink interface {
	// Open opens an alert unless one is already open. It reports whether a
	// new alert was created.
	Open(ctx context.Context, ref scope.Ref, alertType string, severity Severity, message string) (bool, error)

	// Close closes the open alert, if any. It reports whether one was closed.
	Close(ctx context.Context, ref scope.Ref, alertType string) (bool, error)

	// ListOpen returns the open alerts of alertType.
	ListOpen(ctx context.Context, alertType string) ([]Alert, error)
}

// LimitEvent is emitted when an estimate's total first reaches its
// effective limit.
type LimitEvent struct {
	Scope scope.Ref
	Month period.Month
	Total money.Amount
	Limit money.Amount
	At    time.Time
}

// Notifier receives limit events.
type Notifier interface {
	LimitExceeded(ctx context.Context, ev LimitEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev LimitEvent) error

// LimitExceeded implements Notifier.
func (f NotifierFunc) LimitExceeded(ctx context.Context, ev LimitEvent) error {
	return f(ctx, ev)
}

// LogNotifier writes limit events to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// LimitExceeded implements Notifier.
func (n LogNotifier) LimitExceeded(ctx context.Context, ev LimitEvent) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "Estimate reached its limit",
		"scope", ev.Scope.String(),
		"month", ev.Month.String(),
		"total", ev.Total.String(),
		"limit", ev.Limit.String(),
	)
	return nil
}

type openKey struct {
	ref       scope.Ref
	alertType string
}

// MemorySink is an in-process Sink.
type MemorySink struct {
	mu     sync.Mutex
	now    func() time.Time
	open   map[openKey]*Alert
	closed []Alert
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{now: time.Now, open: make(map[openKey]*Alert)}
}

// Open implements Sink.
func (s *MemorySink) Open(_ context.Context, ref scope.Ref, alertType string, severity Severity, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := openKey{ref, alertType}
	if _, ok := s.open[k]; ok {
		return false, nil
	}
	s.open[k] = &Alert{
		ID:       uuid.New(),
		Scope:    ref,
		Type:     alertType,
		Severity: severity,
		Message:  message,
		OpenedAt: s.now(),
	}
	return true, nil
}

// Close implements Sink.
func (s *MemorySink) Close(_ context.Context, ref scope.Ref, alertType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := openKey{ref, alertType}
	a, ok := s.open[k]
	if !ok {
		return false, nil
	}
	now := s.now()
	a.ClosedAt = &now
	s.closed = append(s.closed, *a)
	delete(s.open, k)
	return true, nil
}

// ListOpen implements Sink.
func (s *MemorySink) ListOpen(_ context.Context, alertType string) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for k, a := range s.open {
		if k.alertType == alertType {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.String() < out[j].Scope.String() })
	return out, nil
}

// Closed returns the alerts closed so far.
func (s *MemorySink) Closed() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.closed...)
}
