// Package timer provides the cancellable delay registry that drives capture
// ticks and workflow stage transitions.
package timer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules delayed callbacks that can be cancelled by id.
type Timer interface {
	// ScheduleAfter schedules fn to run after delay and returns its id.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel cancels a scheduled function. Unknown ids are ignored.
	Cancel(id string) error
}

// Clock reports the current time. Components take a Clock so tests can drive
// time by hand.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Info describes one pending timer.
type Info struct {
	ID          string        `json:"id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Remaining   time.Duration `json:"remaining"`
	Description string        `json:"description"`
}

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
	description string
}

// SimpleTimer implements the Timer interface using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
	prefix string
}

// NewSimpleTimer creates a new SimpleTimer. The prefix is used in timer ids so
// log lines from different owners can be told apart.
func NewSimpleTimer(prefix string) *SimpleTimer {
	if prefix == "" {
		prefix = "timer"
	}
	slog.Debug("Creating SimpleTimer", "prefix", prefix)
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
		prefix: prefix,
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("timer callback is nil")
	}
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := fmt.Sprintf("%s_%d", t.prefix, t.nextID)
	now := time.Now()

	// The entry is registered before AfterFunc can fire because the callback
	// needs the lock to remove it.
	t.timers[id] = &timerEntry{
		scheduledAt: now,
		expiresAt:   now.Add(delay),
		description: fmt.Sprintf("Timer scheduled for %v", delay),
	}
	t.timers[id].timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, live := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if !live {
			return
		}
		fn()
	})

	slog.Debug("SimpleTimer.ScheduleAfter", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	if id == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer.Cancel succeeded", "id", id)
		return nil
	}

	slog.Debug("SimpleTimer.Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	slog.Info("SimpleTimer stopped all timers", "prefix", t.prefix, "count", len(t.timers))
	t.timers = make(map[string]*timerEntry)
}

// ListActive returns information about all active timers.
func (t *SimpleTimer) ListActive() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Info, 0, len(t.timers))
	now := time.Now()
	for id, entry := range t.timers {
		remaining := entry.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, Info{
			ID:          id,
			ScheduledAt: entry.scheduledAt,
			ExpiresAt:   entry.expiresAt,
			Remaining:   remaining,
			Description: entry.description,
		})
	}
	return result
}
