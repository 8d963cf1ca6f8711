package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/independant-validator/internal/metrics"
)

func TestSnapshotOkWhenNoDirectionFailed(t *testing.T) {
	tr := NewTracker()
	tr.SetDirectionStatus("D1", DirectionStatus{Status: "healthy"})
	tr.SetDirectionStatus("D2", DirectionStatus{Status: "degraded", ConsecutiveFailures: 5})

	snap := tr.Snapshot()
	if snap.Status != "ok" {
		t.Fatalf("expected overall status ok, got %s", snap.Status)
	}
}

func TestSnapshotDegradedWhenAnyDirectionFailed(t *testing.T) {
	tr := NewTracker()
	tr.SetDirectionStatus("D1", DirectionStatus{Status: "healthy"})
	tr.SetDirectionStatus("D3", DirectionStatus{Status: "failed", ConsecutiveFailures: 10})

	snap := tr.Snapshot()
	if snap.Status != "degraded" {
		t.Fatalf("expected overall status degraded, got %s", snap.Status)
	}
}

func TestHealthEndpointServesJSON(t *testing.T) {
	tr := NewTracker()
	tr.SetDirectionStatus("D1", DirectionStatus{Status: "healthy"})
	reg := metrics.New()
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, tr, reg)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Status != "ok" {
		t.Fatalf("expected ok status in body, got %s", status.Status)
	}
}

func TestMetricsEndpointServesPrometheusFormatWithoutToken(t *testing.T) {
	tr := NewTracker()
	reg := metrics.New()
	reg.PauseTriggers.Inc()
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, tr, reg)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointRequiresBearerTokenWhenConfigured(t *testing.T) {
	tr := NewTracker()
	reg := metrics.New()
	srv := NewServer(Config{Addr: "127.0.0.1:0", MetricsBearerToken: "secret"}, tr, reg)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET /metrics failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid bearer token, got %d", resp2.StatusCode)
	}
}
