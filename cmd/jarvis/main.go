package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/api"
	"github.com/8428215330a-ui/Jarvis/internal/assistant"
	"github.com/8428215330a-ui/Jarvis/internal/capture"
	"github.com/8428215330a-ui/Jarvis/internal/flow"
	"github.com/8428215330a-ui/Jarvis/internal/genai"
	"github.com/8428215330a-ui/Jarvis/internal/inference"
	"github.com/8428215330a-ui/Jarvis/internal/location"
	"github.com/8428215330a-ui/Jarvis/internal/lockfile"
	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/notify"
	"github.com/8428215330a-ui/Jarvis/internal/scheduler"
	"github.com/8428215330a-ui/Jarvis/internal/sign"
	"github.com/8428215330a-ui/Jarvis/internal/speech"
	"github.com/8428215330a-ui/Jarvis/internal/store"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/8428215330a-ui/Jarvis/internal/util"
	"github.com/8428215330a-ui/Jarvis/internal/voice"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

// Default configuration constants
const (
	// DefaultStateDir holds the journal, the lock file, synthesized speech and debug logs.
	DefaultStateDir = "/var/lib/jarvis"
	// DefaultDBFileName is the SQLite journal created in the state directory.
	DefaultDBFileName = "jarvis.db"
	// MemoryDSN selects the in-memory journal.
	MemoryDSN = "memory"

	TTSLog    = "log"
	TTSOpenAI = "openai"
)

// Config holds the daemon configuration. Environment variables provide the
// defaults and command line flags override them.
type Config struct {
	StateDir      string
	APIAddr       string
	LogLevel      string
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	InferenceRPS  float64
	Debug         bool
	JournalDSN    string
	NATSURL       string
	NATSSubject   string
	FlowsFile     string
	TTS           string
	Trace         bool
	ContactName   string

	InitialMode    string
	HazardCooldown time.Duration
	SignBufferMax  int
}

func main() {
	cfg := loadEnvironmentConfig()
	cfg, err := parseCommandLineFlags(cfg, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Jarvis", "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr, "tts", cfg.TTS)
	if err := run(ctx, cfg); err != nil {
		slog.Error("Jarvis failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Jarvis exited successfully")
}

// initializeLogger installs a text slog handler at the requested level.
func initializeLogger(w io.Writer, level string) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Config{
		StateDir:       util.GetEnv("JARVIS_STATE_DIR", DefaultStateDir),
		APIAddr:        util.GetEnv("API_ADDR", api.DefaultAddr),
		LogLevel:       util.GetEnv("JARVIS_LOG_LEVEL", "info"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    util.GetEnv("OPENAI_MODEL", string(genai.DefaultModel)),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		InferenceRPS:   util.ParseFloatEnv("JARVIS_INFERENCE_RPS", 0),
		Debug:          util.ParseBoolEnv("JARVIS_DEBUG", false),
		JournalDSN:     os.Getenv("JARVIS_JOURNAL_DSN"),
		NATSURL:        os.Getenv("NATS_URL"),
		NATSSubject:    util.GetEnv("NATS_SUBJECT", store.DefaultNATSSubject),
		FlowsFile:      os.Getenv("JARVIS_FLOWS_FILE"),
		TTS:            util.GetEnv("JARVIS_TTS", TTSLog),
		Trace:          util.ParseBoolEnv("JARVIS_TRACE", false),
		ContactName:    util.GetEnv("EMERGENCY_CONTACT_NAME", flow.DefaultContactName),
		InitialMode:    util.GetEnv("JARVIS_INITIAL_MODE", string(models.DefaultMode)),
		HazardCooldown: util.ParseDurationEnv("JARVIS_HAZARD_COOLDOWN", assistant.DefaultHazardCooldown),
		SignBufferMax:  util.ParseIntEnv("JARVIS_SIGN_BUFFER_MAX", sign.DefaultMaxBuffer),
	}

	slog.Debug("environment variables loaded",
		"JARVIS_STATE_DIR", cfg.StateDir,
		"API_ADDR", cfg.APIAddr,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"OPENAI_MODEL", cfg.OpenAIModel,
		"JARVIS_JOURNAL_DSN_SET", cfg.JournalDSN != "",
		"NATS_URL_SET", cfg.NATSURL != "",
		"JARVIS_TTS", cfg.TTS)
	return cfg
}

// parseCommandLineFlags overrides cfg with command line arguments.
func parseCommandLineFlags(cfg Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("jarvis", flag.ContinueOnError)
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for Jarvis data (overrides $JARVIS_STATE_DIR)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (overrides $JARVIS_LOG_LEVEL)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&cfg.JournalDSN, "journal-dsn", cfg.JournalDSN, "SQLite path, Postgres DSN or \"memory\" (overrides $JARVIS_JOURNAL_DSN)")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server for log fan-out (overrides $NATS_URL)")
	fs.StringVar(&cfg.FlowsFile, "flows", cfg.FlowsFile, "YAML flow catalog (overrides $JARVIS_FLOWS_FILE)")
	fs.StringVar(&cfg.TTS, "tts", cfg.TTS, "speech engine: log or openai (overrides $JARVIS_TTS)")
	fs.StringVar(&cfg.InitialMode, "mode", cfg.InitialMode, "mode active at startup (overrides $JARVIS_INITIAL_MODE)")
	fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "print OpenTelemetry spans to stdout (overrides $JARVIS_TRACE)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "write every model call under <state-dir>/debug (overrides $JARVIS_DEBUG)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.JournalDSN == "" {
		cfg.JournalDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	switch cfg.TTS {
	case TTSLog, TTSOpenAI:
	default:
		return cfg, fmt.Errorf("unknown tts engine %q (want %s or %s)", cfg.TTS, TTSLog, TTSOpenAI)
	}
	if _, err := models.ParseMode(cfg.InitialMode); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildStoreOptions constructs journal configuration options
func buildStoreOptions(cfg Config) []store.Option {
	if cfg.JournalDSN == "" || strings.EqualFold(cfg.JournalDSN, MemoryDSN) {
		slog.Debug("Using in-memory journal")
		return nil
	}
	if store.DetectDSNType(cfg.JournalDSN) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL journal", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(cfg.JournalDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite journal", "db_path", cfg.JournalDSN)
	return []store.Option{store.WithSQLiteDSN(cfg.JournalDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(cfg Config) []genai.Option {
	opts := []genai.Option{
		genai.WithModel(cfg.OpenAIModel),
		genai.WithRateLimit(cfg.InferenceRPS),
		genai.WithDebugMode(cfg.Debug, cfg.StateDir),
	}
	if cfg.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(cfg.OpenAIKey))
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return opts
}

func assistantConfig(cfg Config) assistant.Config {
	ac := assistant.DefaultConfig()
	if mode, err := models.ParseMode(cfg.InitialMode); err == nil {
		ac.InitialMode = mode
	}
	ac.HazardCooldown = cfg.HazardCooldown
	ac.SignBufferMax = cfg.SignBufferMax
	return ac
}

// run wires every component and serves the API until ctx is cancelled.
func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.APIAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	if cfg.Trace {
		shutdownTracing, err := setupTracing(os.Stdout)
		if err != nil {
			return err
		}
		defer shutdownTracing()
	}

	client, err := genai.NewClient(buildGenAIOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	svc := inference.NewService(client)

	var (
		engine speech.Engine = speech.LogEngine{}
		audio  api.AudioSource
	)
	if cfg.TTS == TTSOpenAI {
		oe, err := speech.NewOpenAIEngine(client, filepath.Join(cfg.StateDir, "speech"))
		if err != nil {
			return err
		}
		engine, audio = oe, oe
	}
	narrator := speech.NewNarrator(engine)
	defer narrator.Close()

	journal, err := store.NewJournal(buildStoreOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	streamOpts := []logstream.Option{logstream.WithSink(journal)}
	if cfg.NATSURL != "" {
		pub, err := store.NewNATSPublisher(store.WithNATS(cfg.NATSURL, cfg.NATSSubject))
		if err != nil {
			journal.Close()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		streamOpts = append(streamOpts, logstream.WithSink(pub))
	}
	stream := logstream.New(streamOpts...)
	defer stream.Close()

	frames := capture.NewPushSource()
	defer frames.Close()
	recognizer := voice.NewPushRecognizer()
	position := location.NewPushSource()

	core, err := assistant.New(assistantConfig(cfg), assistant.Deps{
		Log:            stream,
		Speaker:        narrator,
		Vision:         svc,
		Navigator:      svc,
		CaptureSource:  frames,
		Recognizer:     recognizer,
		LocationSource: position,
	})
	if err != nil {
		return err
	}

	stageTimer := timer.NewSimpleTimer("flow")
	defer stageTimer.Stop()
	flowOpts := []flow.Option{flow.WithLocator(flow.LocatorFunc(core.Location)), flow.WithTimer(stageTimer)}
	if cfg.FlowsFile != "" {
		flows, err := flow.LoadCatalogFile(cfg.FlowsFile)
		if err != nil {
			return err
		}
		flowOpts = append(flowOpts, flow.WithFlows(flows))
	}
	notifier, err := notify.NewTwilioNotifier()
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		slog.Info("Emergency SMS disabled: Twilio is not configured")
		flowOpts = append(flowOpts, flow.WithContact(cfg.ContactName, flow.DefaultContactNumber))
	case err != nil:
		return fmt.Errorf("failed to create notifier: %w", err)
	default:
		flowOpts = append(flowOpts, flow.WithNotifier(notifier), flow.WithContact(cfg.ContactName, notifier.To()))
	}
	flows, err := flow.NewEngine(stream, narrator, svc, flowOpts...)
	if err != nil {
		return err
	}

	cronJobs := scheduler.NewScheduler()
	defer cronJobs.Stop()
	if n, err := cronJobs.ScheduleFlows(flows, flows.Flows()); err != nil {
		return fmt.Errorf("failed to schedule flows: %w", err)
	} else if n > 0 {
		slog.Info("Scheduled flows registered", "count", n)
	}

	server, err := api.NewServer(api.Deps{
		Core:     core,
		Flows:    flows,
		Log:      stream,
		Frames:   frames,
		Speech:   recognizer,
		Position: position,
	}, api.WithAddr(cfg.APIAddr), api.WithJournal(journal), api.WithAudio(audio), api.WithSchedules(cronJobs), api.WithStageTimers(stageTimer))
	if err != nil {
		return err
	}

	if err := core.Start(); err != nil {
		core.Shutdown()
		flows.Shutdown()
		return fmt.Errorf("failed to start assistant: %w", err)
	}
	stream.Append(models.SenderSystem, models.CategoryInfo, "Jarvis online.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down assistant and workflow engine")
		core.Shutdown()
		flows.Shutdown()
		return nil
	})
	return g.Wait()
}

// setupTracing installs a stdout span exporter as the global tracer provider.
func setupTracing(w io.Writer) (func(), error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("setupTracing: tracer shutdown failed", "error", err)
		}
	}, nil
}
