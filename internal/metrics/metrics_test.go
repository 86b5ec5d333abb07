package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

// findGauge locates a gauge value by family name and the value of any of its
// labels; an empty labelValue matches an unlabeled gauge.
func findGauge(t *testing.T, m *Metrics, family, labelValue string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelValue == "" && len(metric.GetLabel()) == 0 {
				return metric.GetGauge().GetValue()
			}
			for _, label := range metric.GetLabel() {
				if label.GetValue() == labelValue {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}

	t.Fatalf("Metric %s{%s} not found", family, labelValue)
	return 0
}

func TestBreakerStateGauge(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.SetBreakerState("A", 1)

	if got := findGauge(t, m, "circuit_breaker_status", "A"); got != 1 {
		t.Errorf("Expected breaker gauge 1 (OPEN), got %f", got)
	}
}

func TestInstanceHealthGauge(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.SetInstanceHealth("A", "10.0.0.1:5000", true)
	m.SetInstanceHealth("B", "10.0.0.2:5000", false)

	if got := findGauge(t, m, "service_health_status", "A-10.0.0.1:5000"); got != 1 {
		t.Errorf("Expected healthy gauge 1, got %f", got)
	}
	if got := findGauge(t, m, "service_health_status", "B-10.0.0.2:5000"); got != 0 {
		t.Errorf("Expected unhealthy gauge 0, got %f", got)
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.SetActiveConnections(7)

	if got := findGauge(t, m, "active_connections", ""); got != 7 {
		t.Errorf("Expected active_connections 7, got %f", got)
	}
}

func TestRequestDurationBuckets(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.ObserveRequest("GET", "/sB/*path", "200", 0.3)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != "http_request_duration_seconds" {
			continue
		}
		if mf.GetType() != dto.MetricType_HISTOGRAM {
			t.Fatalf("Expected histogram, got %s", mf.GetType())
		}

		metric := mf.GetMetric()[0]
		h := metric.GetHistogram()
		if h.GetSampleCount() != 1 {
			t.Errorf("Expected 1 observation, got %d", h.GetSampleCount())
		}

		buckets := h.GetBucket()
		want := []float64{0.1, 0.5, 1, 2, 5}
		if len(buckets) != len(want) {
			t.Fatalf("Expected %d buckets, got %d", len(want), len(buckets))
		}
		for i, b := range buckets {
			if b.GetUpperBound() != want[i] {
				t.Errorf("Bucket %d bound = %f, want %f", i, b.GetUpperBound(), want[i])
			}
		}
		return
	}

	t.Fatal("http_request_duration_seconds not found")
}

func TestHandlerServesExposition(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m.SetBreakerState("A", 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{"circuit_breaker_status", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("Exposition missing %s", want)
		}
	}
}
