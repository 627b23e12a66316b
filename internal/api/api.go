// Package api exposes the assistant, the workflow engine and the log stream
// over HTTP for the client that owns the camera, microphone and GPS.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/assistant"
	"github.com/8428215330a-ui/Jarvis/internal/flow"
	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/scheduler"
	"github.com/8428215330a-ui/Jarvis/internal/store"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/8428215330a-ui/Jarvis/internal/voice"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Default configuration values.
const (
	DefaultAddr            = ":8080"
	DefaultMaxFrameBytes   = 8 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
)

// Core is the perception core as seen by the API.
type Core interface {
	SwitchMode(name string) (bool, error)
	Toggle() (bool, error)
	Scan()
	Ask(question string)
	Status() assistant.Status
}

// Flows is the workflow engine as seen by the API.
type Flows interface {
	Trigger(id string) (models.Flow, error)
	Flows() []models.Flow
	Flow(id string) (models.Flow, bool)
	CancelDialing() bool
	Dialing() flow.DialingState
	AgentResult() (models.AgentResult, bool)
}

// TimerLister reports pending timers.
type TimerLister interface {
	ListActive() []timer.Info
}

// LogSource is the read side of the log stream.
type LogSource interface {
	Entries() []models.LogEntry
	Since(seq uint64) []models.LogEntry
	Subscribe(buffer int) (<-chan models.LogEntry, func())
}

// FrameSink accepts frames uploaded by the client.
type FrameSink interface {
	Push(data []byte, mimeType string) error
}

// SpeechInput accepts recognition events from the client.
type SpeechInput interface {
	SetAvailable(ok bool)
	Deliver(results []voice.Result) error
	End() error
}

// PositionSink accepts GPS updates from the client.
type PositionSink interface {
	Push(lat, lng float64) error
	PushError(message string) error
}

// AudioSource exposes the latest synthesized utterance.
type AudioSource interface {
	LatestPath() string
}

// Schedules lists cron-triggered flows.
type Schedules interface {
	Entries() []scheduler.Entry
}

// Deps are the components served by the API.
type Deps struct {
	Core     Core
	Flows    Flows
	Log      LogSource
	Frames   FrameSink
	Speech   SpeechInput
	Position PositionSink
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	MaxFrameBytes int64
	Journal       store.Journal
	Audio         AudioSource
	Schedules     Schedules
	StageTimers   TimerLister
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMaxFrameBytes caps uploaded frame size.
func WithMaxFrameBytes(n int64) Option {
	return func(o *Opts) { o.MaxFrameBytes = n }
}

// WithJournal enables GET /logs/history.
func WithJournal(j store.Journal) Option {
	return func(o *Opts) { o.Journal = j }
}

// WithAudio enables GET /speech/latest.
func WithAudio(a AudioSource) Option {
	return func(o *Opts) { o.Audio = a }
}

// WithSchedules enables GET /schedules.
func WithSchedules(sc Schedules) Option {
	return func(o *Opts) { o.Schedules = sc }
}

// WithStageTimers lists pending workflow stage timers in GET /status.
func WithStageTimers(l TimerLister) Option {
	return func(o *Opts) { o.StageTimers = l }
}

// Server serves the HTTP API.
type Server struct {
	deps          Deps
	addr          string
	maxFrameBytes int64
	journal       store.Journal
	audio         AudioSource
	schedules     Schedules
	stageTimers   TimerLister
	router        chi.Router
	stream        *logStreamer
}

// NewServer validates deps and builds the router.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	if deps.Core == nil || deps.Flows == nil || deps.Log == nil {
		return nil, errors.New("api: core, flows and log are required")
	}
	if deps.Frames == nil || deps.Speech == nil || deps.Position == nil {
		return nil, errors.New("api: frame, speech and position inputs are required")
	}
	cfg := Opts{Addr: DefaultAddr, MaxFrameBytes: DefaultMaxFrameBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	s := &Server{
		deps:          deps,
		addr:          cfg.Addr,
		maxFrameBytes: cfg.MaxFrameBytes,
		journal:       cfg.Journal,
		audio:         cfg.Audio,
		schedules:     cfg.Schedules,
		stageTimers:   cfg.StageTimers,
		stream:        newLogStreamer(deps.Log),
	}
	s.router = s.routes()
	slog.Debug("api.NewServer: server configured", "addr", s.addr, "journal", s.journal != nil, "audio", s.audio != nil)
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/status", s.statusHandler)
	r.Post("/mode", s.modeHandler)
	r.Post("/frames", s.frameHandler)
	r.Post("/scan", s.scanHandler)
	r.Post("/ask", s.askHandler)

	r.Route("/voice", func(r chi.Router) {
		r.Post("/toggle", s.voiceToggleHandler)
		r.Post("/results", s.voiceResultsHandler)
		r.Post("/end", s.voiceEndHandler)
		r.Post("/availability", s.voiceAvailabilityHandler)
	})

	r.Route("/location", func(r chi.Router) {
		r.Post("/", s.locationHandler)
		r.Post("/error", s.locationErrorHandler)
	})

	r.Route("/logs", func(r chi.Router) {
		r.Get("/", s.logsHandler)
		r.Get("/history", s.logHistoryHandler)
		r.Get("/stream", s.stream.handle)
	})

	r.Route("/flows", func(r chi.Router) {
		r.Get("/", s.listFlowsHandler)
		r.Get("/{flowID}", s.getFlowHandler)
		r.Post("/{flowID}/trigger", s.triggerFlowHandler)
	})
	r.Get("/schedules", s.schedulesHandler)
	r.Post("/dialing/cancel", s.cancelDialingHandler)
	r.Get("/agent", s.agentHandler)
	r.Get("/speech/latest", s.latestSpeechHandler)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	s.stream.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
