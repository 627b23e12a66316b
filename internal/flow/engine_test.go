package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/testutil"
)

type fakeReasoner struct {
	mu      sync.Mutex
	verdict models.AgentVerdict
	err     error
	panics  bool
	calls   int
	seen    models.TelemetrySnapshot
}

func (f *fakeReasoner) AnalyzeTelemetry(ctx context.Context, s models.TelemetrySnapshot) (models.AgentVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = s
	if f.panics {
		panic("sensor bus exploded")
	}
	return f.verdict, f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

type fixedLocator struct{ fix models.LocationFix }

func (l fixedLocator) Current() (models.LocationFix, bool) { return l.fix, true }

type harness struct {
	t        *testing.T
	timer    *testutil.ManualTimer
	log      *logstream.Stream
	speaker  *testutil.RecordingSpeaker
	reasoner *fakeReasoner
	engine   *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mt := testutil.NewManualTimer(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	h := &harness{
		t:        t,
		timer:    mt,
		log:      logstream.New(logstream.WithClock(mt)),
		speaker:  &testutil.RecordingSpeaker{},
		reasoner: &fakeReasoner{verdict: models.AgentVerdict{Summary: "Heart rate nominal", Decision: models.DecisionNormal}},
	}
	base := []Option{WithTimer(mt), WithClock(mt), WithTelemetry(NewSimulatedTelemetry(mt, 7))}
	e, err := NewEngine(h.log, h.speaker, h.reasoner, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	h.engine = e
	t.Cleanup(e.Shutdown)
	return h
}

func (h *harness) flow(id string) models.Flow {
	h.t.Helper()
	f, ok := h.engine.Flow(id)
	if !ok {
		h.t.Fatalf("flow %s missing", id)
	}
	return f
}

func (h *harness) hasLog(category models.Category, msg string) bool {
	for _, e := range h.log.Entries() {
		if e.Category == category && e.Message == msg {
			return true
		}
	}
	return false
}

func taskStatuses(f models.Flow) []models.TaskStatus {
	out := make([]models.TaskStatus, len(f.Tasks))
	for i, t := range f.Tasks {
		out[i] = t.Status
	}
	return out
}

func assertTasks(t *testing.T, f models.Flow, want ...models.TaskStatus) {
	t.Helper()
	got := taskStatuses(f)
	if len(got) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("task %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

const (
	pending   = models.TaskStatusPending
	running   = models.TaskStatusRunning
	completed = models.TaskStatusCompleted
)

func TestTrigger_GenericTimeline(t *testing.T) {
	h := newHarness(t)

	f, err := h.engine.Trigger("f1")
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if f.Status != models.FlowStatusRunning || f.RunID == "" {
		t.Fatalf("expected a RUNNING run, got %+v", f)
	}
	assertTasks(t, f, pending, pending, pending)
	if !h.hasLog(models.CategoryWorkflow, "Initiating flow: f1") {
		t.Error("missing initiation log")
	}

	h.timer.Advance(500 * time.Millisecond)
	assertTasks(t, h.flow("f1"), running, pending, pending)

	h.timer.Advance(1500 * time.Millisecond)
	assertTasks(t, h.flow("f1"), completed, running, pending)

	h.timer.Advance(1500 * time.Millisecond)
	assertTasks(t, h.flow("f1"), completed, completed, running)

	h.timer.Advance(1500 * time.Millisecond)
	done := h.flow("f1")
	assertTasks(t, done, completed, completed, completed)
	if done.Status != models.FlowStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", done.Status)
	}
	if got := done.FinishedAt.Sub(done.StartedAt); got != 5*time.Second {
		t.Errorf("expected a 5s run, got %v", got)
	}
	if !h.hasLog(models.CategorySuccess, "Workflow f1 success.") {
		t.Error("missing success log")
	}
	if h.timer.Pending() != 0 {
		t.Errorf("expected no pending stages, got %d", h.timer.Pending())
	}
}

func TestTrigger_RunningFlowIsNoOp(t *testing.T) {
	h := newHarness(t)
	first, err := h.engine.Trigger("f1")
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	h.timer.Advance(500 * time.Millisecond)
	before := h.flow("f1")
	logs := h.log.Len()
	pendingStages := h.timer.Pending()

	if _, err := h.engine.Trigger("f1"); !errors.Is(err, ErrFlowRunning) {
		t.Fatalf("expected ErrFlowRunning, got %v", err)
	}
	after := h.flow("f1")
	if after.RunID != first.RunID {
		t.Error("run id changed on a rejected trigger")
	}
	assertTasks(t, after, taskStatuses(before)...)
	if h.log.Len() != logs {
		t.Error("rejected trigger must not log")
	}
	if h.timer.Pending() != pendingStages {
		t.Error("rejected trigger must not schedule stages")
	}
}

func TestTrigger_UnknownFlow(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Trigger("f9"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestTrigger_RetriggerAfterSuccessResetsTasks(t *testing.T) {
	h := newHarness(t)
	first, _ := h.engine.Trigger("f1")
	h.timer.Advance(5 * time.Second)
	if h.flow("f1").Status != models.FlowStatusSuccess {
		t.Fatal("first run did not finish")
	}

	second, err := h.engine.Trigger("f1")
	if err != nil {
		t.Fatalf("re-trigger failed: %v", err)
	}
	if second.RunID == first.RunID {
		t.Error("expected a new run id")
	}
	assertTasks(t, second, pending, pending, pending)
}

func TestReasoning_CriticalDecision(t *testing.T) {
	h := newHarness(t)
	h.reasoner.verdict = models.AgentVerdict{Summary: "Heart rate elevated during storm", Decision: models.DecisionCritical}

	if _, err := h.engine.Trigger("f3"); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	h.timer.Advance(2 * time.Second)
	h.engine.Wait()

	if !h.hasLog(models.CategoryInfo, MsgAggregating) {
		t.Error("missing aggregation log")
	}
	result, ok := h.engine.AgentResult()
	if !ok {
		t.Fatal("expected an agent result")
	}
	if result.Decision != models.DecisionCritical || result.DataSource != AgentDataSource || result.FlowID != "f3" {
		t.Errorf("unexpected agent result: %+v", result)
	}
	if !h.hasLog(models.CategoryAlert, "Agent Decision: CRITICAL") {
		t.Error("CRITICAL decision should be logged as an alert")
	}
	assertTasks(t, h.flow("f3"), completed, running, pending)

	h.timer.Advance(1500 * time.Millisecond)
	assertTasks(t, h.flow("f3"), completed, completed, running)
	spoken := h.speaker.Spoken()
	if len(spoken) != 1 || spoken[0] != "Critical alert. Heart rate elevated during storm. Initiating safety protocols." {
		t.Errorf("unexpected narration: %v", spoken)
	}
	if !h.hasLog(models.CategoryAlert, MsgPlaybook) {
		t.Error("missing playbook log")
	}

	h.timer.Advance(2 * time.Second)
	f := h.flow("f3")
	if f.Status != models.FlowStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", f.Status)
	}
	assertTasks(t, f, completed, completed, completed)

	h.reasoner.mu.Lock()
	defer h.reasoner.mu.Unlock()
	if h.reasoner.calls != 1 || h.reasoner.seen.External.Weather != "Storm Warning" {
		t.Errorf("reasoner saw %d calls, snapshot %+v", h.reasoner.calls, h.reasoner.seen)
	}
}

func TestReasoning_WarningAndNormalNarration(t *testing.T) {
	tests := []struct {
		name     string
		verdict  models.AgentVerdict
		spoken   []string
		logMsg   string
		category models.Category
	}{
		{
			name:     "warning",
			verdict:  models.AgentVerdict{Summary: "Battery low", Decision: models.DecisionWarning},
			spoken:   []string{"System warning. Battery low."},
			logMsg:   "Agent Decision: WARNING",
			category: models.CategorySuccess,
		},
		{
			name:     "normal",
			verdict:  models.AgentVerdict{Summary: "All good", Decision: models.DecisionNormal},
			logMsg:   MsgNominal,
			category: models.CategorySuccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.reasoner.verdict = tt.verdict
			h.engine.Trigger("f3")
			h.timer.Advance(2 * time.Second)
			h.engine.Wait()
			h.timer.Advance(3500 * time.Millisecond)

			if got := h.speaker.Spoken(); len(got) != len(tt.spoken) || (len(got) > 0 && got[0] != tt.spoken[0]) {
				t.Errorf("expected speech %v, got %v", tt.spoken, got)
			}
			if !h.hasLog(tt.category, tt.logMsg) {
				t.Errorf("missing %s log %q", tt.category, tt.logMsg)
			}
			if s := h.flow("f3").Status; s != models.FlowStatusSuccess {
				t.Errorf("expected SUCCESS, got %s", s)
			}
		})
	}
}

func TestReasoning_FailureLeavesLastTaskIncomplete(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		panics bool
	}{
		{name: "error", err: errors.New("upstream 503")},
		{name: "panic", panics: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.reasoner.err = tc.err
			h.reasoner.panics = tc.panics

			h.engine.Trigger("f3")
			h.timer.Advance(2 * time.Second)
			h.engine.Wait()
			h.timer.Advance(10 * time.Second)

			f := h.flow("f3")
			if f.Status != models.FlowStatusFailed {
				t.Fatalf("expected FAILED, got %s", f.Status)
			}
			if f.Tasks[2].Status == completed {
				t.Error("last task must not be completed on failure")
			}
			if _, ok := h.engine.AgentResult(); ok {
				t.Error("no agent result expected on failure")
			}
			if !h.hasLog(models.CategoryAlert, "Workflow f3 failed.") {
				t.Error("missing failure log")
			}
			if len(h.speaker.Spoken()) != 0 {
				t.Errorf("nothing should be spoken, got %v", h.speaker.Spoken())
			}
		})
	}
}

func TestEmergency_DialingAndNotification(t *testing.T) {
	notifier := &fakeNotifier{}
	loc := fixedLocator{fix: models.LocationFix{Lat: 40.712776, Lng: -74.005974}}
	h := newHarness(t, WithNotifier(notifier), WithLocator(loc))

	h.engine.Trigger("f2")
	h.timer.Advance(2 * time.Second)

	d := h.engine.Dialing()
	if !d.Active || d.FlowID != "f2" || d.ContactName != DefaultContactName || d.ContactNumber != DefaultContactNumber {
		t.Errorf("unexpected dialing state: %+v", d)
	}
	if got := h.speaker.Spoken(); len(got) != 1 || got[0] != MsgEmergencyDial {
		t.Errorf("unexpected speech: %v", got)
	}

	h.engine.Wait()
	notifier.mu.Lock()
	if len(notifier.msgs) != 1 || !strings.Contains(notifier.msgs[0], "40.7128, -74.0060") {
		t.Errorf("unexpected notification: %v", notifier.msgs)
	}
	notifier.mu.Unlock()

	h.timer.Advance(3 * time.Second)
	if h.engine.Dialing().Active {
		t.Error("dialing should end after the dial hold")
	}
	assertTasks(t, h.flow("f2"), completed, completed, running)

	h.timer.Advance(2 * time.Second)
	if s := h.flow("f2").Status; s != models.FlowStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", s)
	}
}

func TestEmergency_NotifierFailureDoesNotFailFlow(t *testing.T) {
	h := newHarness(t, WithNotifier(&fakeNotifier{err: errors.New("twilio down")}))
	h.engine.Trigger("f2")
	h.timer.Advance(2 * time.Second)
	h.engine.Wait()
	if !h.hasLog(models.CategoryAlert, MsgNotifyFailed) {
		t.Error("missing notification failure alert")
	}
	h.timer.Advance(5 * time.Second)
	if s := h.flow("f2").Status; s != models.FlowStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", s)
	}
}

func TestCancelDialing(t *testing.T) {
	h := newHarness(t, WithContact("Mom", "+15550100"))
	if h.engine.CancelDialing() {
		t.Error("nothing to cancel before a call")
	}

	h.engine.Trigger("f2")
	h.timer.Advance(2 * time.Second)
	if !h.engine.CancelDialing() {
		t.Fatal("expected an active call to cancel")
	}
	d := h.engine.Dialing()
	if d.Active || d.ContactName != "Mom" {
		t.Errorf("unexpected dialing state after cancel: %+v", d)
	}
	if !h.flow("f2").DialingCancelled {
		t.Error("cancellation should be recorded on the run")
	}

	h.timer.Advance(5 * time.Second)
	if s := h.flow("f2").Status; s != models.FlowStatusSuccess {
		t.Errorf("cancelled dialing should not fail the flow, got %s", s)
	}
}

func TestShutdownCancelsPendingStages(t *testing.T) {
	h := newHarness(t)
	h.engine.Trigger("f1")
	h.engine.Shutdown()
	if h.timer.Pending() != 0 {
		t.Errorf("expected stages cancelled, got %d pending", h.timer.Pending())
	}
	if _, err := h.engine.Trigger("f2"); err == nil {
		t.Error("expected trigger after shutdown to fail")
	}
}

func TestFlowsReturnsCopies(t *testing.T) {
	h := newHarness(t)
	flows := h.engine.Flows()
	if len(flows) != 3 {
		t.Fatalf("expected 3 flows, got %d", len(flows))
	}
	flows[0].Tasks[0].Status = completed
	if h.flow(flows[0].ID).Tasks[0].Status != pending {
		t.Error("Flows must not alias engine state")
	}
}

func TestBranchRegisteredForEveryKind(t *testing.T) {
	for _, kind := range []models.FlowKind{models.FlowKindGeneric, models.FlowKindReasoning, models.FlowKindEmergency} {
		if b, ok := lookup(kind); !ok || b == nil {
			t.Errorf("no branch registered for %q", kind)
		}
	}
	if _, ok := lookup(models.FlowKind("teleport")); ok {
		t.Error("unknown kind should have no branch")
	}
}
