package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Narration and log texts.
const (
	MsgAggregating     = "Aggregating Sensor Data..."
	MsgEmergencyDial   = "Initiating emergency contact protocol."
	MsgPlaybook        = "Executing CRITICAL_RESPONSE_PLAYBOOK"
	MsgNominal         = "Systems nominal. No action required."
	MsgNotifyFailed    = "Emergency contact notification failed."
	AgentDataSource    = "IOT_SENSOR_NET"
	emergencySMSFormat = "Jarvis emergency protocol activated for the user. Please respond immediately."
)

var tracer = otel.Tracer("github.com/8428215330a-ui/Jarvis/internal/flow")

// genericBranch advances the remaining tasks on fixed delays.
func genericBranch(e *Engine, r run) {
	e.scheduleLocked(r, e.timing.StepDelay, func(f *models.Flow) {
		setTask(f, 1, models.TaskStatusCompleted)
		setTask(f, 2, models.TaskStatusRunning)
		e.scheduleLocked(r, e.timing.GenericFinishDelay, func(*models.Flow) {
			e.finishLocked(r)
		})
	})
}

// emergencyBranch shows the dialing indicator for the dial hold and notifies
// the contact out of band when a notifier is configured.
func emergencyBranch(e *Engine, r run) {
	e.dialing.Active = true
	e.dialing.FlowID = r.flowID
	e.speaker.Speak(MsgEmergencyDial)
	slog.Info("Engine.emergencyBranch: dialing emergency contact", "flow", r.flowID, "contact", e.contactName)

	if e.notifier != nil && !e.closed {
		msg := e.emergencyMessageLocked()
		e.wg.Add(1)
		go e.notify(r, msg)
	}

	e.scheduleLocked(r, e.timing.DialHold, func(f *models.Flow) {
		setTask(f, 1, models.TaskStatusCompleted)
		setTask(f, 2, models.TaskStatusRunning)
		if e.dialing.FlowID == r.flowID {
			e.dialing.Active = false
			e.dialing.FlowID = ""
		}
		e.scheduleLocked(r, e.timing.FinishDelay, func(*models.Flow) {
			e.finishLocked(r)
		})
	})
}

func (e *Engine) emergencyMessageLocked() string {
	msg := emergencySMSFormat
	if e.locator != nil {
		if fix, ok := e.locator.Current(); ok {
			msg += fmt.Sprintf(" Last known location: %s (https://maps.google.com/?q=%.6f,%.6f)", fix, fix.Lat, fix.Lng)
		}
	}
	return msg
}

func (e *Engine) notify(r run, msg string) {
	defer e.wg.Done()
	ctx, span := tracer.Start(e.ctx, "flow.notify", trace.WithAttributes(attribute.String("flow.id", r.flowID)))
	defer span.End()

	if err := e.notifier.Notify(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Engine.notify: emergency notification failed", "error", err, "flow", r.flowID)
		e.log.Append(models.SenderOrchestrator, models.CategoryAlert, MsgNotifyFailed)
		return
	}
	slog.Info("Engine.notify: emergency contact notified", "flow", r.flowID)
	e.log.Append(models.SenderOrchestrator, models.CategoryInfo, "Emergency contact notified: "+e.contactNumber)
}

// reasoningBranch asks the reasoner to classify a fresh telemetry snapshot.
// The run fails if the reasoner errors or panics.
func reasoningBranch(e *Engine, r run) {
	e.log.Append(models.SenderOrchestrator, models.CategoryInfo, MsgAggregating)
	if e.reasoner == nil {
		e.failLocked(r, fmt.Errorf("no reasoner configured"))
		return
	}
	if e.closed {
		return
	}
	e.wg.Add(1)
	go e.reason(r)
}

func (e *Engine) reason(r run) {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(e.ctx, e.reasonTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "flow.reason", trace.WithAttributes(attribute.String("flow.id", r.flowID)))
	defer span.End()

	verdict, err := e.callReasoner(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.mu.Lock()
		e.failLocked(r, err)
		e.mu.Unlock()
		return
	}
	span.SetAttributes(attribute.String("flow.decision", string(verdict.Decision)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentLocked(r) == nil {
		slog.Debug("Engine.reason: verdict for a finished run discarded", "flow", r.flowID, "run", r.runID)
		return
	}
	e.agent = &models.AgentResult{
		Summary:    verdict.Summary,
		Decision:   verdict.Decision,
		DataSource: AgentDataSource,
		FlowID:     r.flowID,
		ReceivedAt: e.clock.Now(),
	}
	category := models.CategorySuccess
	if verdict.Decision == models.DecisionCritical {
		category = models.CategoryAlert
	}
	slog.Info("Engine.reason: agent decision", "flow", r.flowID, "decision", verdict.Decision)
	e.log.Append(models.SenderOrchestrator, category, "Agent Decision: "+string(verdict.Decision))

	e.scheduleLocked(r, e.timing.StepDelay, func(f *models.Flow) {
		setTask(f, 1, models.TaskStatusCompleted)
		setTask(f, 2, models.TaskStatusRunning)
		e.narrateLocked(verdict)
		e.scheduleLocked(r, e.timing.FinishDelay, func(*models.Flow) {
			e.finishLocked(r)
		})
	})
}

// callReasoner takes a snapshot and classifies it, turning a panic into an error.
func (e *Engine) callReasoner(ctx context.Context) (verdict models.AgentVerdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reasoner panicked: %v", p)
		}
	}()
	snapshot, err := e.telemetry.Snapshot(ctx)
	if err != nil {
		return models.AgentVerdict{}, fmt.Errorf("failed to read telemetry: %w", err)
	}
	verdict, err = e.reasoner.AnalyzeTelemetry(ctx, snapshot)
	if err != nil {
		return models.AgentVerdict{}, fmt.Errorf("reasoning failed: %w", err)
	}
	return verdict, nil
}

func (e *Engine) narrateLocked(v models.AgentVerdict) {
	switch v.Decision {
	case models.DecisionCritical:
		e.speaker.Speak(fmt.Sprintf("Critical alert. %s. Initiating safety protocols.", v.Summary))
		e.log.Append(models.SenderOrchestrator, models.CategoryAlert, MsgPlaybook)
	case models.DecisionWarning:
		e.speaker.Speak(fmt.Sprintf("System warning. %s.", v.Summary))
	default:
		e.log.Append(models.SenderOrchestrator, models.CategorySuccess, MsgNominal)
	}
}
