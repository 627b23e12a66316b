// Package location tracks the device position for navigation mode.
package location

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
)

// Log stream messages.
const (
	MsgInitializing = "Initializing GPS Subsystems..."
	MsgUnavailable  = "GPS Hardware Unavailable"
)

// ErrUnavailable is returned by a Source that has no positioning hardware.
var ErrUnavailable = errors.New("geolocation unavailable")

// Source delivers position updates until the process exits.
type Source interface {
	Watch(onFix func(lat, lng float64), onErr func(err error)) error
}

// Tracker subscribes to a Source at most once and remembers the latest fix.
// Once a fix exists it is only ever replaced by a newer one.
type Tracker struct {
	source Source
	log    logstream.Appender
	clock  timer.Clock

	mu         sync.RWMutex
	subscribed bool
	fix        *models.LocationFix
}

// NewTracker creates a Tracker. source may be nil when no hardware exists.
func NewTracker(source Source, log logstream.Appender, clock timer.Clock) *Tracker {
	if clock == nil {
		clock = timer.SystemClock{}
	}
	return &Tracker{source: source, log: log, clock: clock}
}

// EnsureSubscribed starts watching the source on the first call only.
func (t *Tracker) EnsureSubscribed() {
	t.mu.Lock()
	if t.subscribed {
		t.mu.Unlock()
		return
	}
	t.subscribed = true
	t.mu.Unlock()

	t.log.Append(models.SenderSystem, models.CategoryInfo, MsgInitializing)
	if t.source == nil {
		t.log.Append(models.SenderSystem, models.CategoryAlert, MsgUnavailable)
		return
	}
	if err := t.source.Watch(t.handleFix, t.handleError); err != nil {
		slog.Warn("Tracker.EnsureSubscribed: watch failed", "error", err)
		t.log.Append(models.SenderSystem, models.CategoryAlert, MsgUnavailable)
	}
}

// Subscribed reports whether EnsureSubscribed has run.
func (t *Tracker) Subscribed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subscribed
}

// Current returns the latest fix, if any.
func (t *Tracker) Current() (models.LocationFix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.fix == nil {
		return models.LocationFix{}, false
	}
	return *t.fix, true
}

func (t *Tracker) handleFix(lat, lng float64) {
	fix := models.LocationFix{Lat: lat, Lng: lng, FixAt: t.clock.Now()}
	t.mu.Lock()
	first := t.fix == nil
	t.fix = &fix
	t.mu.Unlock()

	if first {
		t.log.Append(models.SenderSystem, models.CategorySuccess, "GPS Locked: "+fix.String())
	}
}

func (t *Tracker) handleError(err error) {
	if err == nil {
		return
	}
	t.log.Append(models.SenderSystem, models.CategoryAlert, "GPS Error: "+err.Error())
}

// PushSource is a Source fed by the client over HTTP.
type PushSource struct {
	mu    sync.Mutex
	onFix func(lat, lng float64)
	onErr func(err error)
}

// ErrNotWatching is returned by Push before the tracker subscribed.
var ErrNotWatching = errors.New("location is not being watched")

func NewPushSource() *PushSource {
	return &PushSource{}
}

func (p *PushSource) Watch(onFix func(lat, lng float64), onErr func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFix = onFix
	p.onErr = onErr
	return nil
}

// Push delivers a position update.
func (p *PushSource) Push(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("coordinates out of range: %v, %v", lat, lng)
	}
	p.mu.Lock()
	onFix := p.onFix
	p.mu.Unlock()
	if onFix == nil {
		return ErrNotWatching
	}
	onFix(lat, lng)
	return nil
}

// PushError delivers a positioning error reported by the client.
func (p *PushSource) PushError(message string) error {
	p.mu.Lock()
	onErr := p.onErr
	p.mu.Unlock()
	if onErr == nil {
		return ErrNotWatching
	}
	onErr(errors.New(message))
	return nil
}
