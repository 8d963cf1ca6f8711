package guardian

import (
	"context"
	"math/big"
	"testing"
)

type fakePauser struct {
	called bool
	err    error
}

func (f *fakePauser) Pause(ctx context.Context) error {
	f.called = true
	return f.err
}

func TestFirstObservationSeedsBaselineWithoutTripping(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 3})
	p := &fakePauser{}

	ok, err := g.CheckCapChange(context.Background(), p, big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error on first observation: %v", err)
	}
	if !ok {
		t.Fatal("expected the first observation to be accepted as the baseline")
	}
	if p.called {
		t.Fatal("did not expect pause() to be called on baseline seeding")
	}
}

func TestCapChangeWithinThresholdPasses(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 3})
	p := &fakePauser{}
	g.SetBaseline(big.NewInt(1_000_000))

	ok, err := g.CheckCapChange(context.Background(), p, big.NewInt(1_010_000)) // 1% change
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a 1%% change to pass a 5%% threshold")
	}
}

func TestCapChangeExceedingThresholdTrips(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 3})
	p := &fakePauser{}
	g.SetBaseline(big.NewInt(1_000_000))

	ok, err := g.CheckCapChange(context.Background(), p, big.NewInt(1_100_000)) // 10% change
	if err == nil {
		t.Fatal("expected an error when the cap change exceeds the threshold")
	}
	if ok {
		t.Fatal("expected CheckCapChange to report false")
	}
	if !p.called {
		t.Fatal("expected pause() to have been called")
	}
	if !g.Tripped() {
		t.Fatal("expected the guardian to be tripped")
	}
}

func TestTrippedGuardianBlocksFurtherChecks(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 3})
	p := &fakePauser{}
	g.SetBaseline(big.NewInt(1_000_000))
	g.CheckCapChange(context.Background(), p, big.NewInt(1_100_000))

	p.called = false
	ok, err := g.CheckCapChange(context.Background(), p, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("expected no error once already tripped, got %v", err)
	}
	if ok {
		t.Fatal("expected CheckCapChange to refuse once the guardian is tripped")
	}
	if p.called {
		t.Fatal("expected pause() not to be called again once tripped")
	}
}

func TestConsecutiveRevertsTripsAtThreshold(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 3})
	p := &fakePauser{}

	for i := 0; i < 2; i++ {
		if err := g.RecordRevert(context.Background(), p); err != nil {
			t.Fatalf("unexpected error before threshold: %v", err)
		}
	}
	if g.Tripped() {
		t.Fatal("should not be tripped before reaching the threshold")
	}

	if err := g.RecordRevert(context.Background(), p); err == nil {
		t.Fatal("expected an error once the revert threshold is reached")
	}
	if !g.Tripped() {
		t.Fatal("expected the guardian to be tripped")
	}
}

func TestRecordSuccessResetsRevertCounter(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 2})
	p := &fakePauser{}

	g.RecordRevert(context.Background(), p)
	g.RecordSuccess()
	if err := g.RecordRevert(context.Background(), p); err != nil {
		t.Fatalf("expected revert counter to have reset, got error: %v", err)
	}
	if g.Tripped() {
		t.Fatal("should not be tripped after a reset")
	}
}

func TestTripStaysStoppedWhenPauseFails(t *testing.T) {
	g := New(Config{MaxCapChangePct: 5, MaxConsecutiveReverts: 1})
	p := &fakePauser{err: context.DeadlineExceeded}

	err := g.RecordRevert(context.Background(), p)
	if err == nil {
		t.Fatal("expected an error when pause() itself fails")
	}
	if !g.Tripped() {
		t.Fatal("expected the guardian to remain stopped even when pause() fails")
	}
}
