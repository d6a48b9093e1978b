package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/costtrack/pkg/config"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestNewDefaultsTimeout(t *testing.T) {
	if got := New(0).checkTimeout; got != 5*time.Second {
		t.Errorf("checkTimeout = %v, want 5s", got)
	}
	if got := New(time.Second).checkTimeout; got != time.Second {
		t.Errorf("checkTimeout = %v, want 1s", got)
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
		failed []string
	}{
		{
			name: "no checks",
			want: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"store":  PingCheck(pinger{}),
				"events": BacklogCheck(func() int { return 3 }, 10),
			},
			want: StatusReady,
		},
		{
			name: "store down",
			checks: map[string]CheckFunc{
				"store":  PingCheck(pinger{err: errors.New("database is locked")}),
				"events": BacklogCheck(func() int { return 0 }, 10),
			},
			want:   StatusDegraded,
			failed: []string{"store"},
		},
		{
			name: "backlog full",
			checks: map[string]CheckFunc{
				"events": BacklogCheck(func() int { return 10 }, 10),
			},
			want:   StatusDegraded,
			failed: []string{"events"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			status := c.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("Status = %q, want %q", status.Status, tt.want)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
			for _, name := range tt.failed {
				if res := status.Checks[name]; res.Status != StatusUnhealthy || res.Message == "" {
					t.Errorf("check %s = %+v, want unhealthy with message", name, res)
				}
			}
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	res := status.Checks["slow"]
	if res.Status != StatusUnhealthy || res.Message != ErrCheckTimeout.Error() {
		t.Errorf("slow check = %+v, want timeout", res)
	}
}

func TestFreshnessCheck(t *testing.T) {
	var last *time.Time
	check := FreshnessCheck(func() *time.Time { return last }, time.Minute)

	if err := check(context.Background()); err != nil {
		t.Errorf("no run yet: %v", err)
	}

	recent := time.Now().Add(-30 * time.Second)
	last = &recent
	if err := check(context.Background()); err != nil {
		t.Errorf("recent run: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	last = &old
	if err := check(context.Background()); err == nil {
		t.Error("stale run passed")
	}
}

func TestNames(t *testing.T) {
	c := New(0)
	c.Register("store", PingCheck(pinger{}))
	c.Register("catalog", PingCheck(pinger{}))
	c.Register("store", PingCheck(pinger{}))

	if got, want := c.Names(), []string{"catalog", "store"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestMount(t *testing.T) {
	c := New(time.Second)
	c.Register("store", PingCheck(pinger{err: errors.New("connection refused")}))

	r := chi.NewRouter()
	c.Mount(r, config.HealthConfig{LivenessPath: "/health/live", ReadinessPath: "/health/ready"}, "v1.2.0", "abc123")

	tests := []struct {
		method string
		path   string
		code   int
		status string
	}{
		{http.MethodGet, "/health/live", http.StatusOK, StatusOK},
		{http.MethodGet, "/health/ready", http.StatusServiceUnavailable, StatusDegraded},
		{http.MethodHead, "/health/ready", http.StatusServiceUnavailable, ""},
		{http.MethodPost, "/health/live", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.status == "" {
				return
			}
			var body Status
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.status {
				t.Errorf("status = %q, want %q", body.Status, tt.status)
			}
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if info.Version != "v1.2.0" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("version = %+v", info)
	}
}
