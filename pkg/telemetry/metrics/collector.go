package metrics

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/costtrack/pkg/config"
	"mercator-hq/costtrack/pkg/cost"
)

// Collector owns the process metrics registry.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	cost    *cost.Metrics
	catalog *CatalogMetrics

	buildInfo *prometheus.GaugeVec

	mu     sync.Mutex
	stores map[string]bool
}

// NewCollector creates a collector. If registry is nil a new registry is
// created; the global default registry is never used so that tests can
// build several collectors.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true, Path: config.DefaultPrometheusPath}
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
		cost:     cost.NewMetrics(registry),
		catalog:  NewCatalogMetrics(registry),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "costtrack_build_info",
				Help: "Build information of the running binary",
			},
			[]string{"version", "commit"},
		),
		stores: make(map[string]bool),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.buildInfo,
	)
	return c
}

// Cost returns the cost core metrics.
func (c *Collector) Cost() *cost.Metrics {
	return c.cost
}

// Catalog returns the price list metrics.
func (c *Collector) Catalog() *CatalogMetrics {
	return c.catalog
}

// SetBuildInfo publishes the binary version.
func (c *Collector) SetBuildInfo(version, commit string) {
	c.buildInfo.Reset()
	c.buildInfo.WithLabelValues(version, commit).Set(1)
}

// RegisterStore exports connection pool statistics of db under name.
// Registering the same name twice is an error.
func (c *Collector) RegisterStore(name string, db *sql.DB) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stores[name] {
		return fmt.Errorf("store %q already registered", name)
	}
	if err := c.registry.Register(collectors.NewDBStatsCollector(db, name)); err != nil {
		return fmt.Errorf("failed to register store metrics: %w", err)
	}
	c.stores[name] = true
	return nil
}

// Enabled reports whether the metrics endpoint should be served.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Path is the HTTP path of the metrics endpoint.
func (c *Collector) Path() string {
	return c.config.Path
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
