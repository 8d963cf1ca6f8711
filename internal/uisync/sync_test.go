package uisync

import (
	"context"
	"testing"
	"time"
)

func disabledClient() *Client { return &Client{enabled: false} }

func TestSyncIsNoopWhenDisabled(t *testing.T) {
	s := NewService(disabledClient(), 0)
	if s.IsEnabled() {
		t.Fatal("expected a disabled client to yield a disabled service")
	}

	err := s.SyncCycleOutcome(context.Background(), CycleOutcome{
		Direction: "D1",
		CycleID:   1,
		Status:    "healthy",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("disabled sync should not error: %v", err)
	}
}

func TestCacheKeyDistinguishesDirectionAndCycle(t *testing.T) {
	if cacheKey("D1", 1) == cacheKey("D2", 1) {
		t.Fatal("different directions must not collide on cache key")
	}
	if cacheKey("D1", 1) == cacheKey("D1", 2) {
		t.Fatal("different cycle ids must not collide on cache key")
	}
}

func TestPruneLockedDropsExpiredEntries(t *testing.T) {
	s := NewService(disabledClient(), 10*time.Millisecond)
	s.mu.Lock()
	s.cache["D1:1"] = cacheEntry{cachedAt: time.Now().Add(-time.Hour)}
	s.cache["D1:2"] = cacheEntry{cachedAt: time.Now()}
	s.pruneLocked()
	_, staleStillPresent := s.cache["D1:1"]
	_, freshStillPresent := s.cache["D1:2"]
	s.mu.Unlock()

	if staleStillPresent {
		t.Fatal("expired cache entry should have been pruned")
	}
	if !freshStillPresent {
		t.Fatal("fresh cache entry should survive pruning")
	}
}

func TestNewServiceAppliesDefaultTTL(t *testing.T) {
	s := NewService(disabledClient(), 0)
	if s.ttl != defaultCacheTTL {
		t.Fatalf("expected default TTL %v, got %v", defaultCacheTTL, s.ttl)
	}
}

func TestClientIsEnabledNilSafe(t *testing.T) {
	var c *Client
	if c.IsEnabled() {
		t.Fatal("nil client must report disabled")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil client Close should not error: %v", err)
	}
}
