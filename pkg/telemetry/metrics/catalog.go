package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CatalogMetrics tracks price list reloads.
//
// Metrics:
//   - costtrack_catalog_loads_total: reloads by result (ok, error)
//   - costtrack_catalog_load_duration_seconds: reload latency
type CatalogMetrics struct {
	loads    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewCatalogMetrics creates and registers price list metrics.
func NewCatalogMetrics(registry prometheus.Registerer) *CatalogMetrics {
	m := &CatalogMetrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costtrack_catalog_loads_total",
				Help: "Total number of price list reloads",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "costtrack_catalog_load_duration_seconds",
				Help:    "Duration of price list reloads",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
	registry.MustRegister(m.loads, m.duration)
	return m
}

// RecordLoad records one reload attempt.
func (m *CatalogMetrics) RecordLoad(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// LoadHook returns RecordLoad in the shape catalog.WithLoadHook expects.
func (m *CatalogMetrics) LoadHook() func(time.Duration, error) {
	return m.RecordLoad
}
