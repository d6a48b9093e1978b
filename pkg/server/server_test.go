package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/costtrack/pkg/config"
	"mercator-hq/costtrack/pkg/telemetry/health"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestRoutes(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	checker := health.New(time.Second)
	srv := New(testConfig(),
		WithLogger(logger),
		WithHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "costtrack_rollovers_total 1\n")
		})),
		WithHandler("/boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})),
		WithHealth(checker, config.HealthConfig{LivenessPath: "/health/live", ReadinessPath: "/health/ready"}, "dev", ""),
	)

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/metrics", http.StatusOK, "costtrack_rollovers_total"},
		{"/health/live", http.StatusOK, `"status":"ok"`},
		{"/health/ready", http.StatusOK, `"status":"ready"`},
		{"/boom", http.StatusInternalServerError, "Internal Server Error"},
		{"/estimates", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %q, want containing %q", rec.Body.String(), tt.body)
			}
		})
	}

	out := logs.String()
	if !strings.Contains(out, "panic in handler") {
		t.Error("panic was not logged")
	}
	if !strings.Contains(out, "component=server") || !strings.Contains(out, "path=/metrics") {
		t.Errorf("access log missing fields:\n%s", out)
	}
}

func TestStartAndShutdown(t *testing.T) {
	srv := New(testConfig(), WithHandler("/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var addr string
	for i := 0; i < 100 && addr == ""; i++ {
		addr = srv.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not listen")
	}

	resp, err := http.Get("http://" + addr + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	if err := srv.Start(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() error = %v, want ErrRunning", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if srv.Addr() != "" {
		t.Error("Addr() after shutdown not empty")
	}
}

func TestStartInvalidAddress(t *testing.T) {
	cfg := testConfig()
	cfg.ListenAddress = "256.0.0.1:bad"
	if err := New(cfg).Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid address succeeded")
	}
}
