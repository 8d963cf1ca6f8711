// Package ratelimit implements the three token-bucket-style submission
// caps the relay enforces before submitting a Chain transaction: per-block,
// per-minute, and per-hour (spec §4.9).
package ratelimit

import (
	"sync"
	"time"
)

// Config carries the three cap values; zero means "use the package
// defaults" (1 / 10 / 60).
type Config struct {
	PerBlock  int
	PerMinute int
	PerHour   int
}

const (
	defaultPerBlock  = 1
	defaultPerMinute = 10
	defaultPerHour   = 60
)

// Limiter enforces the three caps. A denied submission breaks the current
// cycle (backpressure) rather than being queued — callers must not
// advance cursors on denial.
type Limiter struct {
	mu sync.Mutex

	perBlockCap  int
	perMinuteCap int
	perHourCap   int

	lastBlock   uint64
	blockCount  int
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int

	now func() time.Time
}

// New builds a Limiter from cfg, substituting package defaults for any
// zero field.
func New(cfg Config) *Limiter {
	perBlock := cfg.PerBlock
	if perBlock <= 0 {
		perBlock = defaultPerBlock
	}
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	perHour := cfg.PerHour
	if perHour <= 0 {
		perHour = defaultPerHour
	}
	return &Limiter{
		perBlockCap:  perBlock,
		perMinuteCap: perMinute,
		perHourCap:   perHour,
		now:          time.Now,
	}
}

// Allow reports whether a submission observed at currentBlock is within
// all three caps, and if so, consumes one token from each bucket. The
// per-block bucket resets whenever currentBlock changes from the last
// observed value; the minute/hour buckets reset on elapsed wall time.
func (l *Limiter) Allow(currentBlock uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if currentBlock != l.lastBlock {
		l.lastBlock = currentBlock
		l.blockCount = 0
	}
	if l.minuteStart.IsZero() || now.Sub(l.minuteStart) >= time.Minute {
		l.minuteStart = now
		l.minuteCount = 0
	}
	if l.hourStart.IsZero() || now.Sub(l.hourStart) >= time.Hour {
		l.hourStart = now
		l.hourCount = 0
	}

	if l.blockCount >= l.perBlockCap || l.minuteCount >= l.perMinuteCap || l.hourCount >= l.perHourCap {
		return false
	}

	l.blockCount++
	l.minuteCount++
	l.hourCount++
	return true
}
