package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/config"
	"github.com/In5al/pad-labs-onethree/internal/metrics"
)

// staticLister serves fixed instance lists per service type.
type staticLister struct {
	lists map[string][]string
}

func (l *staticLister) ListInstances(_ context.Context, serviceType string) []string {
	return l.lists[serviceType]
}

func testMonitorConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Health.Interval = 50 * time.Millisecond
	return cfg
}

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New failed: %v", err)
	}
	return m
}

// host strips the scheme off an httptest server URL.
func host(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestMonitorRecordsProbeResults(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Errorf("Expected probe on /ping, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	cfg := testMonitorConfig()
	cfg.Backend.ServiceTypes = []string{"A"}

	lister := &staticLister{lists: map[string][]string{
		"A": {host(up), host(down)},
	}}

	m := NewMonitor(lister, cfg, newTestMetrics(t), zap.NewNop())
	m.RunCycle(context.Background())

	if !m.IsHealthy("A", host(up)) {
		t.Error("Expected 200 probe to read healthy")
	}
	if m.IsHealthy("A", host(down)) {
		t.Error("Expected 500 probe to read unhealthy")
	}
}

func TestMonitorUnknownInstanceIsUnhealthy(t *testing.T) {
	cfg := testMonitorConfig()
	m := NewMonitor(&staticLister{}, cfg, newTestMetrics(t), zap.NewNop())

	if m.IsHealthy("A", "10.0.0.1:5000") {
		t.Error("Expected unknown instance to read unhealthy")
	}
}

func TestMonitorUnreachableInstanceRecordsError(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.Backend.ServiceTypes = []string{"A"}
	cfg.Backend.Timeout = 500 * time.Millisecond

	unreachable := "127.0.0.1:1"
	lister := &staticLister{lists: map[string][]string{"A": {unreachable}}}

	m := NewMonitor(lister, cfg, newTestMetrics(t), zap.NewNop())
	m.RunCycle(context.Background())

	if m.IsHealthy("A", unreachable) {
		t.Error("Expected unreachable instance to read unhealthy")
	}

	snapshot := m.Snapshot("A", []string{unreachable})
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 snapshot entry, got %d", len(snapshot))
	}
	if snapshot[0].LastError == "" {
		t.Error("Expected probe error to be recorded")
	}
}

func TestMonitorSnapshotPreservesOrderAndFillsGaps(t *testing.T) {
	cfg := testMonitorConfig()
	m := NewMonitor(&staticLister{}, cfg, newTestMetrics(t), zap.NewNop())

	snapshot := m.Snapshot("A", []string{"h1:5000", "h2:5000"})
	if len(snapshot) != 2 {
		t.Fatalf("Expected entries for every requested instance, got %d", len(snapshot))
	}
	if snapshot[0].Instance != "h1:5000" || snapshot[1].Instance != "h2:5000" {
		t.Errorf("Expected input ordering preserved, got %v", snapshot)
	}
	if snapshot[0].Healthy {
		t.Error("Expected never-probed instance to appear unhealthy")
	}
}

func TestMonitorRunCyclesUntilCancelled(t *testing.T) {
	var probes atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	cfg := testMonitorConfig()
	cfg.Backend.ServiceTypes = []string{"A"}

	lister := &staticLister{lists: map[string][]string{"A": {host(backend)}}}
	m := NewMonitor(lister, cfg, newTestMetrics(t), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// A few intervals' worth of cycles.
	time.Sleep(175 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}

	if n := probes.Load(); n < 2 {
		t.Errorf("Expected repeated probe cycles, got %d", n)
	}
}
