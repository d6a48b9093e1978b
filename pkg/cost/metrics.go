package cost

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/events"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

// Metrics contains Prometheus metrics for the cost tracker. It also
// observes the event bus.
type Metrics struct {
	// Event handling
	events       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	retries      prometheus.Counter
	deadLetters  prometheus.Counter
	handleTiming *prometheus.HistogramVec

	// Pricing and adapters
	adapterFailures *prometheus.CounterVec
	unpriced        *prometheus.CounterVec

	// Propagation latency
	propagation prometheus.Histogram

	// Evaluator
	alerts        *prometheus.CounterVec
	limitExceeded prometheus.Counter
	rollovers     prometheus.Counter

	// Current month totals per scope kind
	estimateTotal *prometheus.GaugeVec
}

// NewMetrics registers the tracker metrics with reg. A nil reg uses a
// private registry, which keeps tests and embedded trackers apart.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costtrack_events_total",
				Help: "Total number of resource events handled",
			},
			[]string{"type", "result"},
		),

		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costtrack_events_dropped_total",
				Help: "Total number of events dropped without retry",
			},
			[]string{"reason"},
		),

		retries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "costtrack_event_retries_total",
				Help: "Total number of event handling retries",
			},
		),

		deadLetters: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "costtrack_dead_letters_total",
				Help: "Total number of events moved to the dead-letter queue",
			},
		),

		handleTiming: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "costtrack_event_duration_seconds",
				Help:    "Time from first attempt to successful handling of an event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		adapterFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costtrack_adapter_failures_total",
				Help: "Total number of backend adapter failures",
			},
			[]string{"kind"},
		),

		unpriced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costtrack_unpriced_items_total",
				Help: "Total number of consumable items priced at zero for lack of a price",
			},
			[]string{"item_type"},
		),

		propagation: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "costtrack_propagation_duration_seconds",
				Help:    "Duration of resource estimate transactions",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 10},
			},
		),

		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costtrack_alerts_total",
				Help: "Total number of threshold alerts opened and closed",
			},
			[]string{"action"},
		),

		limitExceeded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "costtrack_limit_exceeded_total",
				Help: "Total number of limit_exceeded notifications",
			},
		),

		rollovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "costtrack_rollovers_total",
				Help: "Total number of scopes carried into a new month",
			},
		),

		estimateTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "costtrack_estimate_total",
				Help: "Sum of current month estimate totals per scope kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordEvent counts a handled event.
func (m *Metrics) RecordEvent(t events.Type, err error) {
	result := "ok"
	if err != nil {
		result = Classify(err).String()
	}
	m.events.WithLabelValues(string(t), result).Inc()
}

// RecordUnpriced counts an item priced at zero.
func (m *Metrics) RecordUnpriced(item consumption.Item) {
	m.unpriced.WithLabelValues(string(item.Type)).Inc()
}

// RecordAdapterFailure counts a failed adapter call.
func (m *Metrics) RecordAdapterFailure(kind string) {
	m.adapterFailures.WithLabelValues(kind).Inc()
}

// RecordPropagation records the duration of one estimate transaction.
func (m *Metrics) RecordPropagation(d time.Duration) {
	m.propagation.Observe(d.Seconds())
}

// RecordAlert counts an opened or closed alert.
func (m *Metrics) RecordAlert(action string) {
	m.alerts.WithLabelValues(action).Inc()
}

// RecordLimitExceeded counts a limit notification.
func (m *Metrics) RecordLimitExceeded() {
	m.limitExceeded.Inc()
}

// RecordRollover counts scopes carried into a new month.
func (m *Metrics) RecordRollover(n int) {
	m.rollovers.Add(float64(n))
}

// SetTotals replaces the per-kind totals with the sums over estimates.
func (m *Metrics) SetTotals(estimates []*estimate.PriceEstimate) {
	sums := make(map[scope.Kind]money.Amount, len(scope.Kinds))
	for _, k := range scope.Kinds {
		sums[k] = 0
	}
	for _, e := range estimates {
		sums[e.Scope.Kind] += e.Total
	}
	for k, v := range sums {
		m.estimateTotal.WithLabelValues(string(k)).Set(v.Float64())
	}
}

// Handled implements events.Observer.
func (m *Metrics) Handled(ev events.Event, elapsed time.Duration) {
	m.handleTiming.WithLabelValues(string(ev.Type)).Observe(elapsed.Seconds())
}

// Retried implements events.Observer.
func (m *Metrics) Retried(events.Event, int, error) {
	m.retries.Inc()
}

// Dropped implements events.Observer.
func (m *Metrics) Dropped(_ events.Event, err error) {
	m.dropped.WithLabelValues(Classify(err).String()).Inc()
}

// DeadLettered implements events.Observer.
func (m *Metrics) DeadLettered(events.Event, error) {
	m.deadLetters.Inc()
}
