package uisync

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// directionsCollection is the Firestore collection each direction's
// per-cycle outcome document lives under.
const directionsCollection = "relay_direction_cycles"

// defaultCacheTTL bounds how long a (direction, cycleID) pair is
// remembered as "already synced" before a repeat sync is allowed
// through again — mirrors the teacher's intentCacheTTL default.
const defaultCacheTTL = 5 * time.Minute

// CycleOutcome is the per-cycle summary one direction handler reports
// after each pass, per spec §5's per-direction health tracking.
type CycleOutcome struct {
	Direction   string
	CycleID     uint64
	Submitted   int
	Skipped     int
	Deferred    int
	LastCursor  uint64
	Status      string // "healthy", "degraded", "failed"
	Timestamp   time.Time
}

type cacheEntry struct {
	cachedAt time.Time
}

// Service syncs per-cycle direction outcomes to Firestore, deduping
// repeat syncs of the same (direction, cycleID) within a TTL window —
// the scheduler may call Sync more than once per cycle on retry paths.
type Service struct {
	client *Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService builds a Service. client may be a disabled/no-op Client,
// in which case Sync is always a no-op.
func NewService(client *Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		client: client,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// IsEnabled reports whether syncing is actually wired to Firestore.
func (s *Service) IsEnabled() bool { return s != nil && s.client.IsEnabled() }

func cacheKey(direction string, cycleID uint64) string {
	return fmt.Sprintf("%s:%d", direction, cycleID)
}

// SyncCycleOutcome mirrors one direction's cycle outcome to Firestore,
// skipping the write if this exact (direction, cycleID) pair was
// synced within the TTL window.
func (s *Service) SyncCycleOutcome(ctx context.Context, outcome CycleOutcome) error {
	if !s.IsEnabled() {
		return nil
	}

	key := cacheKey(outcome.Direction, outcome.CycleID)
	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && time.Since(entry.cachedAt) < s.ttl {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	col := s.client.collection(directionsCollection)
	doc := col.Doc(outcome.Direction)
	_, err := doc.Set(ctx, map[string]interface{}{
		"direction":  outcome.Direction,
		"cycleId":    outcome.CycleID,
		"submitted":  outcome.Submitted,
		"skipped":    outcome.Skipped,
		"deferred":   outcome.Deferred,
		"lastCursor": outcome.LastCursor,
		"status":     outcome.Status,
		"timestamp":  outcome.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("uisync: sync cycle outcome for %s: %w", outcome.Direction, err)
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{cachedAt: time.Now()}
	s.pruneLocked()
	s.mu.Unlock()
	return nil
}

// pruneLocked drops expired cache entries. Called with s.mu held.
func (s *Service) pruneLocked() {
	now := time.Now()
	for k, e := range s.cache {
		if now.Sub(e.cachedAt) >= s.ttl {
			delete(s.cache, k)
		}
	}
}
