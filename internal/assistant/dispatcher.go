package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/sign"
	"github.com/8428215330a-ui/Jarvis/internal/speech"
	"github.com/8428215330a-ui/Jarvis/internal/throttle"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
)

// Narration and prompts used by the dispatcher.
const (
	SystemPrompt       = "You are Jarvis. Be concise, helpful, and direct."
	SocialCuesSuffix   = " Focus on emotions and social cues."
	GPSWaitMessage     = "I am currently acquiring GPS satellites. Please wait a moment."
	MsgGPSRequired     = "GPS Signal Required"
	MsgAccessingNav    = "Accessing Satellite Navigation..."
	MsgNavDataReceived = "Nav Data Received"
)

// Analysis branches, used as metric labels.
const (
	branchSign     = "sign"
	branchHazard   = "hazard"
	branchLocation = "location"
	branchVisual   = "visual_qa"
)

var locationKeywords = []string{"where", "find", "go to", "location"}

// Vision is the image understanding collaborator.
type Vision interface {
	Analyze(ctx context.Context, frame models.CaptureFrame, prompt, systemPrompt string) (string, error)
	CheckHazard(ctx context.Context, frame models.CaptureFrame) (string, error)
}

// Navigator answers place questions relative to a position.
type Navigator interface {
	AskLocation(ctx context.Context, question string, lat, lng float64) (string, error)
}

// Locator exposes the latest position fix.
type Locator interface {
	Current() (models.LocationFix, bool)
}

// Gestures accepts classified sign tokens.
type Gestures interface {
	Accept(tok sign.Token) (appended, formed bool)
}

// IsLocationIntent reports whether a question asks for a place.
func IsLocationIntent(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range locationKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// QuestionPrompt builds the visual Q&A prompt for mode.
func QuestionPrompt(question string, mode models.Mode) string {
	prompt := fmt.Sprintf("User Question: %q. Answer strictly based on the image.", question)
	if mode == models.ModeSocialEye {
		prompt += SocialCuesSuffix
	}
	return prompt
}

// Dispatcher turns captured frames into analysis calls. At most one frame is
// analyzed at a time; frames arriving meanwhile are dropped.
type Dispatcher struct {
	machine   *Machine
	vision    Vision
	navigator Navigator
	locator   Locator
	gestures  Gestures
	speaker   speech.Speaker
	log       logstream.Appender
	clock     timer.Clock
	timeout   time.Duration

	guard  *throttle.SingleFlight
	hazard *throttle.RateGate

	ctx context.Context
	wg  sync.WaitGroup
}

// Submit hands a frame to the dispatcher without blocking. It reports whether
// the frame was accepted.
func (d *Dispatcher) Submit(frame models.CaptureFrame) bool {
	if !d.guard.TryAcquire() {
		metrics.RecordFrameDropped(metrics.DropInFlight)
		slog.Debug("Dispatcher.Submit: analysis in flight, frame dropped", "mode", frame.Mode)
		return false
	}
	metrics.SetAnalysisInFlight(true)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			metrics.SetAnalysisInFlight(false)
			d.guard.Release()
		}()
		d.Dispatch(d.ctx, frame)
	}()
	return true
}

// Processing reports whether an analysis is in flight.
func (d *Dispatcher) Processing() bool {
	return d.guard.Busy()
}

// Wait blocks until every submitted frame has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch runs the mode specific branches for one frame. The caller must
// hold the single-flight guard. Failures never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, frame models.CaptureFrame) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.Dispatch: recovered from panic", "panic", r, "mode", frame.Mode)
		}
	}()

	if !d.machine.IsCurrent(frame.Epoch) {
		d.stale("frame", frame)
		return
	}

	if frame.Mode == models.ModeSignInterpreter {
		d.classifyGesture(ctx, frame)
		return
	}

	if frame.Mode == models.ModeNavigation && d.hazard.Allow(d.clock.Now()) {
		d.checkHazard(ctx, frame)
	}

	question, seq := d.machine.Question()
	if question == "" {
		return
	}
	if frame.Mode == models.ModeNavigation && IsLocationIntent(question) {
		d.answerLocation(ctx, frame, question, seq)
		return
	}
	d.answerVisual(ctx, frame, question, seq)
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return context.WithCancel(ctx)
}

func (d *Dispatcher) classifyGesture(ctx context.Context, frame models.CaptureFrame) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	raw, err := d.vision.Analyze(callCtx, frame, sign.Prompt, sign.SystemPrompt)
	if err != nil {
		metrics.RecordAnalysisCall(branchSign, "error")
		slog.Error("Dispatcher.classifyGesture: gesture classification failed", "error", err)
		return
	}
	tok := sign.Classify(raw)
	if tok == sign.NoMatch {
		metrics.RecordAnalysisCall(branchSign, "empty")
		return
	}
	metrics.RecordAnalysisCall(branchSign, "ok")
	if !d.machine.applyIfCurrent(frame.Epoch, func(*liveState) { d.gestures.Accept(tok) }) {
		d.stale(branchSign, frame)
	}
}

func (d *Dispatcher) checkHazard(ctx context.Context, frame models.CaptureFrame) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	warning, err := d.vision.CheckHazard(callCtx, frame)
	if err != nil {
		metrics.RecordAnalysisCall(branchHazard, "error")
		slog.Error("Dispatcher.checkHazard: hazard check failed", "error", err)
		return
	}
	if warning == "" {
		metrics.RecordAnalysisCall(branchHazard, "empty")
		return
	}
	metrics.RecordAnalysisCall(branchHazard, "ok")
	applied := d.machine.applyIfCurrent(frame.Epoch, func(*liveState) {
		d.log.Append(models.SenderAssistant, models.CategoryAlert, warning)
		d.speaker.Speak(warning)
	})
	if !applied {
		d.stale(branchHazard, frame)
	}
}

func (d *Dispatcher) answerLocation(ctx context.Context, frame models.CaptureFrame, question string, seq uint64) {
	fix, ok := d.locator.Current()
	if !ok {
		d.machine.applyIfCurrent(frame.Epoch, func(s *liveState) {
			d.speaker.Speak(GPSWaitMessage)
			d.log.Append(models.SenderSystem, models.CategoryAlert, MsgGPSRequired)
			s.clearQuestion(seq)
		})
		return
	}

	if !d.machine.applyIfCurrent(frame.Epoch, func(*liveState) {
		d.log.Append(models.SenderSystem, models.CategoryInfo, MsgAccessingNav)
	}) {
		d.stale(branchLocation, frame)
		return
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	answer, err := d.navigator.AskLocation(callCtx, question, fix.Lat, fix.Lng)
	if err != nil {
		metrics.RecordAnalysisCall(branchLocation, "error")
		slog.Error("Dispatcher.answerLocation: location query failed", "error", err)
		return
	}
	metrics.RecordAnalysisCall(branchLocation, "ok")
	applied := d.machine.applyIfCurrent(frame.Epoch, func(s *liveState) {
		d.log.Append(models.SenderAssistant, models.CategorySuccess, MsgNavDataReceived)
		d.speaker.Speak(answer)
		s.setNavInstruction(answer)
		s.clearQuestion(seq)
	})
	if !applied {
		d.stale(branchLocation, frame)
	}
}

func (d *Dispatcher) answerVisual(ctx context.Context, frame models.CaptureFrame, question string, seq uint64) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	answer, err := d.vision.Analyze(callCtx, frame, QuestionPrompt(question, frame.Mode), SystemPrompt)
	if err != nil {
		metrics.RecordAnalysisCall(branchVisual, "error")
		slog.Error("Dispatcher.answerVisual: visual question failed", "error", err)
		return
	}
	if answer == "" {
		metrics.RecordAnalysisCall(branchVisual, "empty")
		return
	}
	metrics.RecordAnalysisCall(branchVisual, "ok")
	applied := d.machine.applyIfCurrent(frame.Epoch, func(s *liveState) {
		d.log.Append(models.SenderAssistant, models.CategorySuccess, answer)
		d.speaker.Speak(answer)
		s.clearQuestion(seq)
	})
	if !applied {
		d.stale(branchVisual, frame)
	}
}

func (d *Dispatcher) stale(branch string, frame models.CaptureFrame) {
	metrics.RecordStaleResult()
	slog.Debug("Dispatcher: discarding stale result", "branch", branch, "mode", frame.Mode, "epoch", frame.Epoch)
}
