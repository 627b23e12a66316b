package flow

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
	"github.com/8428215330a-ui/Jarvis/internal/speech"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/google/uuid"
)

var (
	// ErrFlowNotFound is returned for an unknown flow id.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrFlowRunning is returned when triggering a flow that is already running.
	ErrFlowRunning = errors.New("flow already running")
)

// Emergency contact defaults.
const (
	DefaultContactName   = "EMERGENCY CONTACT"
	DefaultContactNumber = "+1 (555) 019-2834"
)

// DefaultReasonTimeout bounds one reasoning call.
const DefaultReasonTimeout = 30 * time.Second

// Timing holds the stage delays of a run.
type Timing struct {
	StartDelay         time.Duration
	FirstStepDelay     time.Duration
	StepDelay          time.Duration
	GenericFinishDelay time.Duration
	FinishDelay        time.Duration
	DialHold           time.Duration
}

// DefaultTiming returns the stock stage delays.
func DefaultTiming() Timing {
	return Timing{
		StartDelay:         500 * time.Millisecond,
		FirstStepDelay:     1500 * time.Millisecond,
		StepDelay:          1500 * time.Millisecond,
		GenericFinishDelay: 1500 * time.Millisecond,
		FinishDelay:        2000 * time.Millisecond,
		DialHold:           3000 * time.Millisecond,
	}
}

// Reasoner classifies a telemetry snapshot.
type Reasoner interface {
	AnalyzeTelemetry(ctx context.Context, snapshot models.TelemetrySnapshot) (models.AgentVerdict, error)
}

// Notifier reaches the emergency contact out of band.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Locator reports the last known device position.
type Locator interface {
	Current() (models.LocationFix, bool)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func() (models.LocationFix, bool)

// Current calls f.
func (f LocatorFunc) Current() (models.LocationFix, bool) { return f() }

// DialingState is the emergency call indicator shown to the user.
type DialingState struct {
	Active        bool   `json:"active"`
	FlowID        string `json:"flow_id,omitempty"`
	ContactName   string `json:"contact_name"`
	ContactNumber string `json:"contact_number"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimer sets the timer driving stage transitions.
func WithTimer(t timer.Timer) Option {
	return func(e *Engine) { e.timer = t }
}

// WithClock sets the clock used for run timestamps.
func WithClock(c timer.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTiming overrides DefaultTiming.
func WithTiming(t Timing) Option {
	return func(e *Engine) { e.timing = t }
}

// WithNotifier enables out of band emergency notification.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLocator attaches the location included in emergency notifications.
func WithLocator(l Locator) Option {
	return func(e *Engine) { e.locator = l }
}

// WithTelemetry replaces the simulated telemetry source.
func WithTelemetry(t TelemetrySource) Option {
	return func(e *Engine) { e.telemetry = t }
}

// WithContact sets the emergency contact shown while dialing. Empty values keep the defaults.
func WithContact(name, number string) Option {
	return func(e *Engine) {
		if name != "" {
			e.contactName = name
		}
		if number != "" {
			e.contactNumber = number
		}
	}
}

// WithFlows replaces the default catalog.
func WithFlows(flows []models.Flow) Option {
	return func(e *Engine) { e.catalog = flows }
}

// WithReasonTimeout overrides DefaultReasonTimeout.
func WithReasonTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reasonTimeout = d
		}
	}
}

// run identifies one activation of a flow. Steps scheduled for an older run
// of the same flow find a different RunID and do nothing.
type run struct {
	flowID string
	runID  string
}

// Engine owns the flow catalog and drives each run through its tasks.
type Engine struct {
	log           logstream.Appender
	speaker       speech.Speaker
	reasoner      Reasoner
	telemetry     TelemetrySource
	notifier      Notifier
	locator       Locator
	timer         timer.Timer
	clock         timer.Clock
	timing        Timing
	contactName   string
	contactNumber string
	reasonTimeout time.Duration
	catalog       []models.Flow

	mu      sync.Mutex
	flows   []models.Flow
	index   map[string]int
	timers  map[string]map[string]struct{}
	dialing DialingState
	agent   *models.AgentResult
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine over the default catalog unless WithFlows is given.
func NewEngine(log logstream.Appender, speaker speech.Speaker, reasoner Reasoner, opts ...Option) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("log stream is required")
	}
	if speaker == nil {
		return nil, fmt.Errorf("speaker is required")
	}
	e := &Engine{
		log:           log,
		speaker:       speaker,
		reasoner:      reasoner,
		timing:        DefaultTiming(),
		contactName:   DefaultContactName,
		contactNumber: DefaultContactNumber,
		reasonTimeout: DefaultReasonTimeout,
		timers:        make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.timer == nil {
		e.timer = timer.NewSimpleTimer("flow")
	}
	if e.clock == nil {
		e.clock = timer.SystemClock{}
	}
	if e.telemetry == nil {
		e.telemetry = NewSimulatedTelemetry(e.clock, uint64(time.Now().UnixNano()))
	}
	if e.catalog == nil {
		flows, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		e.catalog = flows
	}

	e.index = make(map[string]int, len(e.catalog))
	for i, f := range e.catalog {
		if _, ok := lookup(f.Kind); !ok {
			return nil, fmt.Errorf("flow %s: no branch registered for kind %q", f.ID, f.Kind)
		}
		e.flows = append(e.flows, f.Clone())
		e.index[f.ID] = i
	}
	e.dialing = DialingState{ContactName: e.contactName, ContactNumber: e.contactNumber}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	slog.Debug("flow.NewEngine: engine created", "flows", len(e.flows), "notifier", e.notifier != nil)
	return e, nil
}

// Trigger starts a new run of the flow. A flow that is already running is
// left untouched and ErrFlowRunning is returned.
func (e *Engine) Trigger(id string) (models.Flow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[id]
	if !ok {
		return models.Flow{}, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	f := &e.flows[i]
	if !f.Status.Triggerable() {
		slog.Debug("Engine.Trigger: flow already running", "flow", id, "run", f.RunID)
		return f.Clone(), ErrFlowRunning
	}
	if e.closed {
		return f.Clone(), fmt.Errorf("engine is shut down")
	}

	f.RunID = uuid.NewString()
	f.Status = models.FlowStatusRunning
	f.StartedAt = e.clock.Now()
	f.FinishedAt = time.Time{}
	f.DialingCancelled = false
	for t := range f.Tasks {
		f.Tasks[t].Status = models.TaskStatusPending
	}
	r := run{flowID: f.ID, runID: f.RunID}

	slog.Info("Engine.Trigger: flow started", "flow", id, "run", r.runID, "kind", f.Kind)
	e.log.Append(models.SenderOrchestrator, models.CategoryWorkflow, "Initiating flow: "+id)

	e.scheduleLocked(r, e.timing.StartDelay, func(f *models.Flow) {
		setTask(f, 0, models.TaskStatusRunning)
	})
	e.scheduleLocked(r, e.timing.StartDelay+e.timing.FirstStepDelay, func(f *models.Flow) {
		setTask(f, 0, models.TaskStatusCompleted)
		setTask(f, 1, models.TaskStatusRunning)
		drive, _ := lookup(f.Kind)
		drive(e, r)
	})
	return f.Clone(), nil
}

// CancelDialing clears the dialing indicator and records the cancellation on
// the emergency run. It reports whether a call was in progress.
func (e *Engine) CancelDialing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dialing.Active {
		return false
	}
	if i, ok := e.index[e.dialing.FlowID]; ok {
		e.flows[i].DialingCancelled = true
	}
	slog.Info("Engine.CancelDialing: dialing cancelled", "flow", e.dialing.FlowID)
	e.dialing.Active = false
	e.dialing.FlowID = ""
	e.log.Append(models.SenderOrchestrator, models.CategoryAlert, "Emergency call cancelled by user.")
	return true
}

// Dialing returns the current dialing indicator.
func (e *Engine) Dialing() DialingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dialing
}

// Flows returns a copy of every flow in catalog order.
func (e *Engine) Flows() []models.Flow {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Flow, 0, len(e.flows))
	for _, f := range e.flows {
		out = append(out, f.Clone())
	}
	return out
}

// Flow returns a copy of one flow.
func (e *Engine) Flow(id string) (models.Flow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return models.Flow{}, false
	}
	return e.flows[i].Clone(), true
}

// AgentResult returns the latest reasoning outcome, if any.
func (e *Engine) AgentResult() (models.AgentResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.agent == nil {
		return models.AgentResult{}, false
	}
	return *e.agent, true
}

// Wait blocks until in-flight reasoning and notification calls return.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels every pending stage and in-flight call, then waits for them.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	for flowID, ids := range e.timers {
		for id := range ids {
			if err := e.timer.Cancel(id); err != nil {
				slog.Warn("Engine.Shutdown: timer cancel failed", "error", err, "timer", id)
			}
		}
		delete(e.timers, flowID)
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	slog.Info("Engine.Shutdown: engine stopped")
}

// scheduleLocked runs fn against the flow after delay, provided the same run
// is still current and RUNNING.
func (e *Engine) scheduleLocked(r run, delay time.Duration, fn func(f *models.Flow)) {
	if e.closed {
		return
	}
	var id string
	id, err := e.timer.ScheduleAfter(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if ids := e.timers[r.flowID]; ids != nil {
			delete(ids, id)
		}
		f := e.currentLocked(r)
		if f == nil {
			slog.Debug("Engine.scheduleLocked: stale step skipped", "flow", r.flowID, "run", r.runID)
			return
		}
		fn(f)
	})
	if err != nil {
		slog.Error("Engine.scheduleLocked: failed to schedule step", "error", err, "flow", r.flowID)
		e.failLocked(r, err)
		return
	}
	if e.timers[r.flowID] == nil {
		e.timers[r.flowID] = make(map[string]struct{})
	}
	e.timers[r.flowID][id] = struct{}{}
}

// currentLocked returns the flow if r is still its active run.
func (e *Engine) currentLocked(r run) *models.Flow {
	i, ok := e.index[r.flowID]
	if !ok {
		return nil
	}
	f := &e.flows[i]
	if f.RunID != r.runID || f.Status != models.FlowStatusRunning {
		return nil
	}
	return f
}

// finishLocked completes the last task and marks the run SUCCESS.
func (e *Engine) finishLocked(r run) {
	f := e.currentLocked(r)
	if f == nil {
		return
	}
	setTask(f, len(f.Tasks)-1, models.TaskStatusCompleted)
	f.Status = models.FlowStatusSuccess
	f.FinishedAt = e.clock.Now()
	delete(e.timers, r.flowID)
	metrics.RecordFlowRun(f.ID, string(f.Status))
	slog.Info("Engine.finishLocked: flow succeeded", "flow", f.ID, "run", r.runID, "elapsed", f.FinishedAt.Sub(f.StartedAt))
	e.log.Append(models.SenderOrchestrator, models.CategorySuccess, fmt.Sprintf("Workflow %s success.", f.ID))
}

// failLocked marks the run FAILED, leaving unfinished tasks as they are.
func (e *Engine) failLocked(r run, cause error) {
	f := e.currentLocked(r)
	if f == nil {
		return
	}
	f.Status = models.FlowStatusFailed
	f.FinishedAt = e.clock.Now()
	for id := range e.timers[r.flowID] {
		_ = e.timer.Cancel(id)
	}
	delete(e.timers, r.flowID)
	if e.dialing.Active && e.dialing.FlowID == r.flowID {
		e.dialing.Active = false
		e.dialing.FlowID = ""
	}
	metrics.RecordFlowRun(f.ID, string(f.Status))
	slog.Error("Engine.failLocked: flow failed", "error", cause, "flow", f.ID, "run", r.runID)
	e.log.Append(models.SenderOrchestrator, models.CategoryAlert, fmt.Sprintf("Workflow %s failed.", f.ID))
}

// setTask moves a task forward. Tasks never go back to an earlier status.
func setTask(f *models.Flow, i int, status models.TaskStatus) {
	if i < 0 || i >= len(f.Tasks) {
		return
	}
	if taskRank(status) > taskRank(f.Tasks[i].Status) {
		f.Tasks[i].Status = status
	}
}

func taskRank(s models.TaskStatus) int {
	switch s {
	case models.TaskStatusRunning:
		return 1
	case models.TaskStatusCompleted:
		return 2
	}
	return 0
}
