// Package throttle provides the shared gates that keep expensive analysis
// calls from piling up: a single-flight guard and a cooldown rate gate.
package throttle

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// SingleFlight admits at most one holder at a time. Callers that cannot
// acquire are turned away immediately; nothing is queued.
type SingleFlight struct {
	sem  *semaphore.Weighted
	busy atomic.Bool
}

// NewSingleFlight creates an idle guard.
func NewSingleFlight() *SingleFlight {
	return &SingleFlight{sem: semaphore.NewWeighted(1)}
}

// TryAcquire claims the guard. It returns false when another operation holds it.
func (s *SingleFlight) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.busy.Store(true)
	return true
}

// Release frees the guard. It must be called exactly once per successful TryAcquire.
func (s *SingleFlight) Release() {
	s.busy.Store(false)
	s.sem.Release(1)
}

// Busy reports whether an operation currently holds the guard.
func (s *SingleFlight) Busy() bool {
	return s.busy.Load()
}

// RateGate enforces a minimum interval between successive admissions.
type RateGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	fired    bool
}

// NewRateGate creates a gate that admits at most once per interval.
func NewRateGate(interval time.Duration) *RateGate {
	return &RateGate{interval: interval}
}

// Allow admits the caller when the gate never fired or now-last >= interval,
// recording now as the new last-fire time. Check and record are atomic.
func (g *RateGate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	g.fired = true
	return true
}

// Last returns the last admission time and whether the gate ever fired.
func (g *RateGate) Last() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.fired
}

// Interval returns the configured minimum interval.
func (g *RateGate) Interval() time.Duration {
	return g.interval
}
