package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/costtrack/pkg/config"
	"mercator-hq/costtrack/pkg/cost/events"
)

func TestCollector_NewCollector(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true, Path: "/metrics"}
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector.Registry() != registry {
		t.Error("collector registry not set correctly")
	}
	if !collector.Enabled() || collector.Path() != "/metrics" {
		t.Error("collector config not set correctly")
	}
	if collector.Cost() == nil || collector.Catalog() == nil {
		t.Fatal("expected cost and catalog metrics")
	}
}

func TestCollector_NilConfig(t *testing.T) {
	collector := NewCollector(nil, nil)
	if collector.Path() != config.DefaultPrometheusPath {
		t.Errorf("expected default path, got %q", collector.Path())
	}
}

func TestCollector_CostMetricsShareRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nil, registry)

	collector.Cost().RecordEvent(events.TypeResourceChanged, nil)
	collector.Cost().RecordLimitExceeded()

	count, err := testutil.GatherAndCount(registry, "costtrack_events_total", "costtrack_limit_exceeded_total")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 series, got %d", count)
	}
}

func TestCollector_SetBuildInfo(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nil, registry)

	collector.SetBuildInfo("0.1.0", "abc123")
	collector.SetBuildInfo("0.2.0", "def456")

	expected := `
# HELP costtrack_build_info Build information of the running binary
# TYPE costtrack_build_info gauge
costtrack_build_info{commit="def456",version="0.2.0"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "costtrack_build_info"); err != nil {
		t.Error(err)
	}
}

func TestCatalogMetrics_RecordLoad(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewCatalogMetrics(registry)

	hook := m.LoadHook()
	hook(5*time.Millisecond, nil)
	hook(5*time.Millisecond, nil)
	hook(time.Second, errors.New("db down"))

	if got := testutil.ToFloat64(m.loads.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 successful loads, got %v", got)
	}
	if got := testutil.ToFloat64(m.loads.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed load, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Errorf("expected one histogram, got %d", got)
	}
}

func TestCollector_RegisterStore(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	collector := NewCollector(nil, registry)

	if err := collector.RegisterStore("costtrack", db); err != nil {
		t.Fatalf("RegisterStore() error = %v", err)
	}
	if err := collector.RegisterStore("costtrack", db); err == nil {
		t.Error("expected error registering the same store twice")
	}

	count, err := testutil.GatherAndCount(registry, "go_sql_open_connections")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected pool stats for one store, got %d", count)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(nil, nil)
	collector.SetBuildInfo("0.1.0", "abc123")

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	for _, name := range []string{"costtrack_build_info", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in scrape output", name)
		}
	}
}
