package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/internal/chainclient"
	"github.com/certen/independant-validator/internal/directions"
	"github.com/certen/independant-validator/internal/health"
	"github.com/certen/independant-validator/internal/metrics"
	"github.com/certen/independant-validator/internal/signer"
	"github.com/certen/independant-validator/internal/uisync"
)

// orphanRecoveryEveryNCycles is spec §4.6's sweep cadence: orphan
// recovery runs once every sixth cycle, after the six directions.
const orphanRecoveryEveryNCycles = 6

// Direction pairs a direction's spec name with its Execute method, so
// the Scheduler can drive it without internal/directions needing to know
// anything about scheduling.
type Direction struct {
	Name    string
	Execute func(ctx context.Context) error
}

// RebuildSigner constructs a fresh signer.Signer, called after an RPC
// failover (spec §4.8: "rebuild signer" alongside the provider rotation,
// since an HSM-backed signer's session may be pinned to the prior
// endpoint's chain connection).
type RebuildSigner func(ctx context.Context) (signer.Signer, error)

// Config carries the Scheduler's fixed tunables.
type Config struct {
	PollInterval time.Duration
	Addresses    chainclient.Addresses
}

// Scheduler runs the cooperative cycle loop: the six direction handlers
// strictly in order, followed every orphanRecoveryEveryNCycles-th cycle
// by orphan recovery, then the RPC failover check (spec §5). Handlers
// never run concurrently — that is required for cursor-monotonicity and
// state-file coherence, per spec §5's single-threaded model.
type Scheduler struct {
	cfg Config

	directions []Direction
	orphan     Direction

	deps          *directions.Deps
	chain         *chainclient.Client
	rebuildSigner RebuildSigner

	tracker *healthTracker
	uisync  *uisync.Service
	metrics *metrics.Registry
	logger  *log.Logger

	cycle uint64
}

// New builds a Scheduler. deps is the shared dependency bundle every
// direction handler was constructed against — the Scheduler mutates
// deps.Signer in place after a failover, which every handler observes on
// its next Execute since they all close over the same *Deps.
func New(cfg Config, deps *directions.Deps, directionList []Direction, orphan Direction, chain *chainclient.Client, rebuildSigner RebuildSigner, tracker *health.Tracker, reg *metrics.Registry, uiSync *uisync.Service, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		directions:    directionList,
		orphan:        orphan,
		deps:          deps,
		chain:         chain,
		rebuildSigner: rebuildSigner,
		tracker:       newHealthTracker(tracker, reg),
		uisync:        uiSync,
		metrics:       reg,
		logger:        logger,
	}
}

// Run drives the cycle loop until ctx is cancelled, for a graceful
// SIGINT/SIGTERM drain (spec §5): the in-flight cycle is allowed to
// finish, then Run returns without starting another.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("scheduler: drain requested, stopping after in-flight cycle")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one pass: the six directions in order, orphan
// recovery every orphanRecoveryEveryNCycles-th cycle, then the failover
// check.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.cycle++
	start := time.Now()
	correlationID := uuid.NewString()

	for _, d := range s.directions {
		s.runOne(ctx, d, correlationID)
	}

	if s.cycle%orphanRecoveryEveryNCycles == 0 {
		s.runOne(ctx, s.orphan, correlationID)
	}

	if s.tracker.endCycle() {
		s.failover(ctx)
	}

	s.logger.Printf("scheduler: cycle %d [%s] complete in %s", s.cycle, correlationID, time.Since(start))
}

// runOne executes a single direction, records its outcome into the
// health tracker and metrics, and mirrors it to the optional UI sync
// service. A handler error never stops the cycle — per-direction fault
// isolation (spec §5) means one failing direction does not block the
// others.
func (s *Scheduler) runOne(ctx context.Context, d Direction, correlationID string) {
	timer := s.metrics.CycleDuration.WithLabelValues(d.Name)
	t0 := time.Now()
	err := d.Execute(ctx)
	timer.Observe(time.Since(t0).Seconds())

	status := s.tracker.record(d.Name, err)
	if err != nil {
		s.logger.Printf("scheduler: %s [%s]: %v", d.Name, correlationID, err)
	}

	if s.uisync != nil {
		outcomeStatus := status
		if err := s.uisync.SyncCycleOutcome(ctx, uisync.CycleOutcome{
			Direction: d.Name,
			CycleID:   s.cycle,
			Status:    outcomeStatus,
			Timestamp: t0,
		}); err != nil {
			s.logger.Printf("scheduler: %s: ui sync: %v", d.Name, err)
		}
	}
}

// failover rotates to the next configured RPC provider and rebuilds the
// signer, per spec §4.8. Failure to rotate is logged and left for the
// next trigger rather than treated as fatal — the relay keeps running
// against its current (degraded) provider.
func (s *Scheduler) failover(ctx context.Context) {
	url, err := s.chain.Failover(ctx, s.cfg.Addresses)
	if err != nil {
		s.logger.Printf("scheduler: rpc failover failed: %v", err)
		return
	}
	s.logger.Printf("scheduler: rpc failover engaged, now connected to %s", url)

	if s.rebuildSigner == nil {
		return
	}
	newSigner, err := s.rebuildSigner(ctx)
	if err != nil {
		s.logger.Printf("scheduler: signer rebuild after failover failed: %v", err)
		return
	}
	s.deps.Signer = newSigner
}
