package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrementAndGather(t *testing.T) {
	r := New()

	r.AttestationsSubmitted.WithLabelValues("confirmed").Inc()
	r.AttestationsSubmitted.WithLabelValues("confirmed").Inc()
	r.AttestationsSubmitted.WithLabelValues("skipped_duplicate").Inc()

	if got := testutil.ToFloat64(r.AttestationsSubmitted.WithLabelValues("confirmed")); got != 2 {
		t.Fatalf("expected 2 confirmed attestations, got %v", got)
	}
	if got := testutil.ToFloat64(r.AttestationsSubmitted.WithLabelValues("skipped_duplicate")); got != 1 {
		t.Fatalf("expected 1 skipped_duplicate attestation, got %v", got)
	}
}

func TestGaugeSetAndInFlight(t *testing.T) {
	r := New()
	r.InFlightAttestations.Set(3)
	if got := testutil.ToFloat64(r.InFlightAttestations); got != 3 {
		t.Fatalf("expected in-flight gauge of 3, got %v", got)
	}
}

func TestPauseTriggerCounter(t *testing.T) {
	r := New()
	r.PauseTriggers.Inc()
	if got := testutil.ToFloat64(r.PauseTriggers); got != 1 {
		t.Fatalf("expected 1 pause trigger, got %v", got)
	}
}

func TestGathererExposesRegisteredMetrics(t *testing.T) {
	r := New()
	r.CursorAdvances.WithLabelValues("bridge-in").Inc()

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == namespace+"_cursor_advances_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected cursor_advances_total to be present in the gathered metric families")
	}
}
