package ratelimit

import (
	"testing"
	"time"
)

func TestPerBlockCapDeniesWithinSameBlock(t *testing.T) {
	l := New(Config{PerBlock: 1, PerMinute: 100, PerHour: 100})
	if !l.Allow(10) {
		t.Fatal("expected first submission at block 10 to be allowed")
	}
	if l.Allow(10) {
		t.Fatal("expected second submission at the same block to be denied")
	}
	if !l.Allow(11) {
		t.Fatal("expected submission at a new block to be allowed again")
	}
}

func TestPerMinuteCapDeniesAfterLimit(t *testing.T) {
	l := New(Config{PerBlock: 100, PerMinute: 2, PerHour: 100})
	if !l.Allow(1) || !l.Allow(2) {
		t.Fatal("expected first two submissions to be allowed")
	}
	if l.Allow(3) {
		t.Fatal("expected third submission within the same minute to be denied")
	}
}

func TestPerHourCapDeniesAfterLimit(t *testing.T) {
	l := New(Config{PerBlock: 100, PerMinute: 100, PerHour: 1})
	if !l.Allow(1) {
		t.Fatal("expected first submission to be allowed")
	}
	if l.Allow(2) {
		t.Fatal("expected second submission within the same hour to be denied")
	}
}

func TestMinuteWindowResetsOnElapsedTime(t *testing.T) {
	l := New(Config{PerBlock: 100, PerMinute: 1, PerHour: 100})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	if !l.Allow(1) {
		t.Fatal("expected first submission to be allowed")
	}
	if l.Allow(2) {
		t.Fatal("expected second submission within the same minute to be denied")
	}

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow(3) {
		t.Fatal("expected submission after the minute window elapsed to be allowed")
	}
}

func TestDefaultsApplyWhenZero(t *testing.T) {
	l := New(Config{})
	if l.perBlockCap != defaultPerBlock || l.perMinuteCap != defaultPerMinute || l.perHourCap != defaultPerHour {
		t.Fatalf("expected package defaults, got %+v", l)
	}
}
