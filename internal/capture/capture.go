// Package capture samples frames from the camera source on a mode dependent
// cadence and hands them to the analysis dispatcher.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
)

// Default sampling periods.
const (
	DefaultPeriod           = 1000 * time.Millisecond
	DefaultNavigationPeriod = 2000 * time.Millisecond
)

// CameraUnavailableMessage is logged once when the source cannot start.
const CameraUnavailableMessage = "Camera access denied or unavailable."

// ErrSourceUnavailable is returned when the camera cannot be opened.
var ErrSourceUnavailable = errors.New("capture source unavailable")

// Source provides frames. Grab returns ok=false when no new frame is available.
type Source interface {
	Start(ctx context.Context) error
	Grab() (data []byte, mimeType string, ok bool)
	Stop()
}

// Sink receives captured frames. It is called with the scheduler lock held
// and must not block or call back into the Scheduler.
type Sink func(frame models.CaptureFrame)

// PeriodFor returns the sampling period for mode.
func PeriodFor(mode models.Mode, normal, navigation time.Duration) time.Duration {
	if mode == models.ModeNavigation {
		return navigation
	}
	return normal
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimer sets the timer used for ticks.
func WithTimer(t timer.Timer) Option {
	return func(s *Scheduler) { s.timer = t }
}

// WithClock sets the clock used to stamp frames.
func WithClock(c timer.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLog sets the log stream receiving capability alerts.
func WithLog(l logstream.Appender) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler emits one frame immediately on Start and one per period after.
type Scheduler struct {
	source Source
	sink   Sink
	timer  timer.Timer
	clock  timer.Clock
	log    logstream.Appender

	mu            sync.Mutex
	gen           uint64
	active        bool
	sourceStarted bool
	unavailable   bool
	timerID       string
	mode          models.Mode
	epoch         uint64
	period        time.Duration
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(source Source, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{source: source, sink: sink, clock: timer.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.timer == nil {
		s.timer = timer.NewSimpleTimer("capture")
	}
	return s
}

// Start begins sampling for the given mode activation, replacing any
// previous activation.
func (s *Scheduler) Start(ctx context.Context, mode models.Mode, epoch uint64, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid capture period %v", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.haltLocked()
	if s.unavailable {
		return ErrSourceUnavailable
	}
	if !s.sourceStarted {
		if err := s.source.Start(ctx); err != nil {
			s.unavailable = true
			slog.Error("Scheduler.Start: capture source failed", "error", err)
			if s.log != nil {
				s.log.Append(models.SenderSystem, models.CategoryAlert, CameraUnavailableMessage)
			}
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		s.sourceStarted = true
	}

	s.active = true
	s.mode = mode
	s.epoch = epoch
	s.period = period
	slog.Debug("Scheduler.Start: capture started", "mode", mode, "epoch", epoch, "period", period)
	s.tickLocked(s.gen)
	return nil
}

// Stop halts sampling and releases the source. After Stop returns no frame
// is emitted until the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltLocked()
	if s.sourceStarted {
		s.source.Stop()
		s.sourceStarted = false
	}
}

// Active reports whether sampling is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Unavailable reports whether the source failed to start.
func (s *Scheduler) Unavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

func (s *Scheduler) haltLocked() {
	if s.timerID != "" {
		if err := s.timer.Cancel(s.timerID); err != nil {
			slog.Debug("Scheduler.haltLocked: cancel failed", "timerID", s.timerID, "error", err)
		}
		s.timerID = ""
	}
	if s.active {
		slog.Debug("Scheduler.haltLocked: capture stopped", "mode", s.mode, "epoch", s.epoch)
	}
	s.active = false
	s.gen++
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickLocked(gen)
}

func (s *Scheduler) tickLocked(gen uint64) {
	if !s.active || gen != s.gen {
		return
	}
	id, err := s.timer.ScheduleAfter(s.period, func() { s.tick(gen) })
	if err != nil {
		slog.Error("Scheduler.tick: failed to schedule next capture", "error", err)
	}
	s.timerID = id

	data, mimeType, ok := s.source.Grab()
	if !ok {
		return
	}
	frame := models.CaptureFrame{
		Data:       data,
		MIMEType:   mimeType,
		CapturedAt: s.clock.Now(),
		Mode:       s.mode,
		Epoch:      s.epoch,
	}
	metrics.RecordFrameCaptured(string(s.mode))
	s.sink(frame)
}
