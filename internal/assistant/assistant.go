// Package assistant wires the perception core: the mode state machine, the
// capture scheduler, the analysis dispatcher, the sign assembler, the voice
// loop and the location tracker, behind one context object.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/capture"
	"github.com/8428215330a-ui/Jarvis/internal/location"
	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/sign"
	"github.com/8428215330a-ui/Jarvis/internal/speech"
	"github.com/8428215330a-ui/Jarvis/internal/throttle"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/8428215330a-ui/Jarvis/internal/voice"
)

// ScanQuestion is queued by a manual scan.
const ScanQuestion = "Describe what you see."

// Defaults for Config.
const (
	DefaultHazardCooldown  = 12 * time.Second
	DefaultAnalysisTimeout = 30 * time.Second
)

// Config holds the tunable timings of the core.
type Config struct {
	InitialMode      models.Mode
	CapturePeriod    time.Duration
	NavigationPeriod time.Duration
	HazardCooldown   time.Duration
	AnalysisTimeout  time.Duration
	SignBufferMax    int
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		InitialMode:      models.DefaultMode,
		CapturePeriod:    capture.DefaultPeriod,
		NavigationPeriod: capture.DefaultNavigationPeriod,
		HazardCooldown:   DefaultHazardCooldown,
		AnalysisTimeout:  DefaultAnalysisTimeout,
		SignBufferMax:    sign.DefaultMaxBuffer,
	}
}

// Deps are the collaborators the core consumes.
type Deps struct {
	Log            logstream.Appender
	Speaker        speech.Speaker
	Vision         Vision
	Navigator      Navigator
	CaptureSource  capture.Source
	Recognizer     voice.Recognizer
	LocationSource location.Source
	Timer          timer.Timer
	Clock          timer.Clock
}

// Status is a point in time view of the core for rendering.
type Status struct {
	Mode              models.Mode         `json:"mode"`
	Epoch             uint64              `json:"epoch"`
	Active            bool                `json:"active"`
	Processing        bool                `json:"processing"`
	CaptureActive     bool                `json:"capture_active"`
	CameraUnavailable bool                `json:"camera_unavailable"`
	PendingQuestion   string              `json:"pending_question,omitempty"`
	InterimTranscript string              `json:"interim_transcript,omitempty"`
	SignBuffer        []sign.Token        `json:"sign_buffer"`
	NavInstruction    string              `json:"nav_instruction,omitempty"`
	Location          *models.LocationFix `json:"location,omitempty"`
	LocationWatched   bool                `json:"location_watched"`
	LastHazardCheck   *time.Time          `json:"last_hazard_check,omitempty"`
	HazardCooldown    time.Duration       `json:"hazard_cooldown_ns"`
}

// Assistant is the explicit context object of the perception core.
type Assistant struct {
	cfg        Config
	machine    *Machine
	dispatcher *Dispatcher
	scheduler  *capture.Scheduler
	voice      *voice.Loop
	tracker    *location.Tracker
	assembler  *sign.Assembler
	hazard     *throttle.RateGate

	cancel context.CancelFunc
}

// New wires the core. Optional deps fall back to headless defaults.
func New(cfg Config, deps Deps) (*Assistant, error) {
	if deps.Log == nil {
		return nil, errors.New("assistant: log stream is required")
	}
	if deps.Vision == nil || deps.Navigator == nil {
		return nil, errors.New("assistant: vision and navigator collaborators are required")
	}
	if deps.CaptureSource == nil {
		return nil, errors.New("assistant: capture source is required")
	}
	if deps.Speaker == nil {
		deps.Speaker = speech.NewNarrator(speech.LogEngine{})
	}
	if deps.Clock == nil {
		deps.Clock = timer.SystemClock{}
	}
	if deps.Timer == nil {
		deps.Timer = timer.NewSimpleTimer("capture")
	}
	if !models.IsValidMode(cfg.InitialMode) {
		cfg.InitialMode = models.DefaultMode
	}
	if cfg.HazardCooldown <= 0 {
		cfg.HazardCooldown = DefaultHazardCooldown
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Assistant{cfg: cfg, cancel: cancel}

	a.hazard = throttle.NewRateGate(cfg.HazardCooldown)
	a.assembler = sign.NewAssembler(deps.Log, deps.Speaker, sign.WithMaxBuffer(cfg.SignBufferMax))
	a.tracker = location.NewTracker(deps.LocationSource, deps.Log, deps.Clock)

	a.machine = &Machine{
		log:       deps.Log,
		speaker:   deps.Speaker,
		assembler: a.assembler,
		tracker:   a.tracker,
		periodFor: func(m models.Mode) time.Duration {
			return capture.PeriodFor(m, cfg.CapturePeriod, cfg.NavigationPeriod)
		},
		ctx: ctx,
	}
	a.dispatcher = &Dispatcher{
		machine:   a.machine,
		vision:    deps.Vision,
		navigator: deps.Navigator,
		locator:   a.tracker,
		gestures:  a.assembler,
		speaker:   deps.Speaker,
		log:       deps.Log,
		clock:     deps.Clock,
		timeout:   cfg.AnalysisTimeout,
		guard:     throttle.NewSingleFlight(),
		hazard:    a.hazard,
		ctx:       ctx,
	}
	a.scheduler = capture.NewScheduler(deps.CaptureSource, func(f models.CaptureFrame) { a.dispatcher.Submit(f) },
		capture.WithTimer(deps.Timer), capture.WithClock(deps.Clock), capture.WithLog(deps.Log))
	a.voice = voice.NewLoop(deps.Recognizer, deps.Log, a.machine.SetQuestion, voice.WithActiveHook(metrics.SetListening))

	a.machine.capture = a.scheduler
	a.machine.voice = a.voice
	return a, nil
}

// Start activates the initial mode.
func (a *Assistant) Start() error {
	_, err := a.machine.Switch(a.cfg.InitialMode)
	return err
}

// Shutdown stops every activity and waits for in-flight analysis to finish.
func (a *Assistant) Shutdown() {
	a.machine.shutdown()
	a.cancel()
	a.dispatcher.Wait()
	slog.Info("Assistant.Shutdown: perception core stopped")
}

// SwitchMode parses name and activates the mode. It returns false when the
// mode was already active.
func (a *Assistant) SwitchMode(name string) (bool, error) {
	mode, err := models.ParseMode(name)
	if err != nil {
		return false, err
	}
	return a.machine.Switch(mode)
}

// Toggle turns speech recognition on or off. Capture is unaffected.
func (a *Assistant) Toggle() (bool, error) {
	return a.machine.Toggle()
}

// Scan queues the manual scene description question.
func (a *Assistant) Scan() {
	a.machine.SetQuestion(ScanQuestion)
}

// Ask queues a typed question, as if it had been spoken.
func (a *Assistant) Ask(question string) {
	a.machine.SetQuestion(question)
}

// Location returns the latest fix.
func (a *Assistant) Location() (models.LocationFix, bool) {
	return a.tracker.Current()
}

// Status returns a snapshot for rendering.
func (a *Assistant) Status() Status {
	mode, epoch := a.machine.Mode()
	question, _ := a.machine.Question()
	st := Status{
		Mode:              mode,
		Epoch:             epoch,
		Active:            a.voice.Active(),
		Processing:        a.dispatcher.Processing(),
		CaptureActive:     a.scheduler.Active(),
		CameraUnavailable: a.scheduler.Unavailable(),
		PendingQuestion:   question,
		InterimTranscript: a.voice.Interim(),
		SignBuffer:        a.assembler.Buffer(),
		NavInstruction:    a.machine.NavInstruction(),
		LocationWatched:   a.tracker.Subscribed(),
		HazardCooldown:    a.hazard.Interval(),
	}
	if fix, ok := a.tracker.Current(); ok {
		st.Location = &fix
	}
	if last, ok := a.hazard.Last(); ok {
		st.LastHazardCheck = &last
	}
	return st
}

// Dispatcher exposes the analysis dispatcher.
func (a *Assistant) Dispatcher() *Dispatcher { return a.dispatcher }
