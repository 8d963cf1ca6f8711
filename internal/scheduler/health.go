// Package scheduler drives the relay's cooperative cycle loop: the six
// direction handlers in fixed order, orphan recovery every sixth cycle,
// per-direction health demotion, and RPC failover (spec §4.8, §5).
package scheduler

import (
	"sync"

	"github.com/certen/independant-validator/internal/directions"
	"github.com/certen/independant-validator/internal/health"
	"github.com/certen/independant-validator/internal/metrics"
)

// directionDemotionThreshold is the number of consecutive cycle failures
// before a direction's status demotes from "degraded" to "failed" — a
// single miss is tolerated as noise (spec §5's per-direction fault
// isolation); the handler simply retries next cycle. A permanent-class
// error demotes a direction to "failed" at once.
const directionDemotionThreshold = 3

// failoverFailedDirections and failoverConsecutiveCycles are spec §4.8's
// RPC failover trigger: 3 consecutive cycles with at least 3 directions
// Failed rotates to the next configured RPC URL.
const (
	failoverFailedDirections  = 3
	failoverConsecutiveCycles = 3
)

// healthTracker folds each direction's per-cycle outcome into the
// health.Tracker snapshot served over /health, mirrors it onto the
// direction_status gauge, and counts consecutive bad cycles for the
// Scheduler's failover trigger.
type healthTracker struct {
	mu          sync.Mutex
	consecutive map[string]int
	badCycles   int

	tracker *health.Tracker
	metrics *metrics.Registry
}

func newHealthTracker(tracker *health.Tracker, reg *metrics.Registry) *healthTracker {
	return &healthTracker{
		consecutive: make(map[string]int),
		tracker:     tracker,
		metrics:     reg,
	}
}

// record applies one direction's cycle outcome and returns its resulting
// status string ("healthy", "degraded", "failed").
func (h *healthTracker) record(direction string, err error) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := "healthy"
	if err != nil {
		h.consecutive[direction]++
		if directions.ClassOf(err) == directions.ClassPermanent && h.consecutive[direction] < directionDemotionThreshold {
			h.consecutive[direction] = directionDemotionThreshold
		}
		if h.consecutive[direction] >= directionDemotionThreshold {
			status = "failed"
		} else {
			status = "degraded"
		}
	} else {
		h.consecutive[direction] = 0
	}

	h.tracker.SetDirectionStatus(direction, health.DirectionStatus{
		Status:              status,
		ConsecutiveFailures: h.consecutive[direction],
	})

	var gaugeValue float64
	switch status {
	case "degraded":
		gaugeValue = 1
	case "failed":
		gaugeValue = 2
	}
	h.metrics.DirectionStatus.WithLabelValues(direction).Set(gaugeValue)

	return status
}

// endCycle tallies how many directions are currently Failed and advances
// (or resets) the consecutive-bad-cycle counter the failover trigger
// reads. Returns true once failoverConsecutiveCycles consecutive cycles
// have each had at least failoverFailedDirections directions Failed.
func (h *healthTracker) endCycle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	failed := 0
	for _, c := range h.consecutive {
		if c >= directionDemotionThreshold {
			failed++
		}
	}

	if failed >= failoverFailedDirections {
		h.badCycles++
	} else {
		h.badCycles = 0
	}

	if h.badCycles >= failoverConsecutiveCycles {
		h.badCycles = 0
		return true
	}
	return false
}
