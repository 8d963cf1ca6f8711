// Package guardian implements the emergency pause guardian (spec §4.10):
// it watches the proportional change in attested Chain assets and the
// consecutive-revert count, and trips the bridge's on-chain pause once
// either threshold is crossed. Once tripped, the guardian is permanently
// stopped for the life of the process — restart is the only recovery.
package guardian

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// bpsDenominator is the basis-point scale (1 bps = 1/10000).
const bpsDenominator = 10_000

// Pauser is the narrow Chain capability the guardian needs to trip a
// pause; internal/directions adapts chainclient.Bridge to it.
type Pauser interface {
	Pause(ctx context.Context) error
}

// Guardian tracks the pause trip conditions and the one-shot pause call.
type Guardian struct {
	mu sync.Mutex

	maxCapChangeBps     int64
	maxConsecutiveReverts int

	baseline          *big.Int
	baselineKnown     bool
	consecutiveReverts int
	tripped           bool
}

// Config carries the guardian's two trip thresholds.
type Config struct {
	MaxCapChangePct    float64
	MaxConsecutiveReverts int
}

// New builds a Guardian from cfg.
func New(cfg Config) *Guardian {
	return &Guardian{
		maxCapChangeBps:       int64(cfg.MaxCapChangePct * 100),
		maxConsecutiveReverts: cfg.MaxConsecutiveReverts,
	}
}

// Tripped reports whether the guardian has already paused the bridge.
func (g *Guardian) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// SetBaseline lazily initializes the baseline supply cap the first time it
// is observed, per spec §4.10 ("initialized lazily from the Chain").
func (g *Guardian) SetBaseline(cap *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.baselineKnown {
		return
	}
	g.baseline = new(big.Int).Set(cap)
	g.baselineKnown = true
}

// CheckCapChange computes the proportional change in attestedCantonAssets
// against the baseline, in basis points, and trips the guardian if it
// exceeds the configured threshold. Returns true if the proposed value is
// safe to proceed with.
func (g *Guardian) CheckCapChange(ctx context.Context, pauser Pauser, proposed *big.Int) (bool, error) {
	g.mu.Lock()
	if g.tripped {
		g.mu.Unlock()
		return false, nil
	}
	if !g.baselineKnown {
		g.baseline = new(big.Int).Set(proposed)
		g.baselineKnown = true
		g.mu.Unlock()
		return true, nil
	}
	baseline := g.baseline
	g.mu.Unlock()

	if baseline.Sign() == 0 {
		return true, nil
	}

	delta := new(big.Int).Sub(proposed, baseline)
	delta.Abs(delta)

	bps := new(big.Int).Mul(delta, big.NewInt(bpsDenominator))
	bps.Div(bps, baseline)

	if bps.Cmp(big.NewInt(g.maxCapChangeBps)) > 0 {
		return false, g.trip(ctx, pauser, fmt.Sprintf("supply cap changed by %s bps, exceeding the %d bps threshold", bps.String(), g.maxCapChangeBps))
	}
	return true, nil
}

// RefreshBaseline advances the baseline after a successful attestation
// submission (spec §4.1 step 14: "refresh the guardian's cap baseline").
func (g *Guardian) RefreshBaseline(value *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseline = new(big.Int).Set(value)
	g.baselineKnown = true
}

// RecordRevert increments the consecutive-revert counter, tripping the
// guardian once it reaches the configured maximum.
func (g *Guardian) RecordRevert(ctx context.Context, pauser Pauser) error {
	g.mu.Lock()
	g.consecutiveReverts++
	count := g.consecutiveReverts
	g.mu.Unlock()

	if count >= g.maxConsecutiveReverts {
		return g.trip(ctx, pauser, fmt.Sprintf("%d consecutive Chain reverts reached the configured maximum", count))
	}
	return nil
}

// RecordSuccess resets the consecutive-revert counter.
func (g *Guardian) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveReverts = 0
}

// trip marks the guardian permanently stopped and calls pause() once. If
// the pause call itself fails (e.g. the relay lacks the emergency role),
// the guardian still stays stopped — spec §4.10's safe-fallback behavior.
func (g *Guardian) trip(ctx context.Context, pauser Pauser, reason string) error {
	g.mu.Lock()
	if g.tripped {
		g.mu.Unlock()
		return fmt.Errorf("guardian already tripped: %s", reason)
	}
	g.tripped = true
	g.mu.Unlock()

	if err := pauser.Pause(ctx); err != nil {
		return fmt.Errorf("guardian tripped (%s) but pause() failed, relay remains stopped: %w", reason, err)
	}
	return fmt.Errorf("guardian tripped: %s", reason)
}
