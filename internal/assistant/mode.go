package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/speech"
)

type capturer interface {
	Start(ctx context.Context, mode models.Mode, epoch uint64, period time.Duration) error
	Stop()
}

type listener interface {
	Toggle() (bool, error)
	Stop()
	Active() bool
}

type resetter interface {
	Reset()
}

type subscriber interface {
	EnsureSubscribed()
}

// Machine owns the operating mode and every piece of mode scoped state. Each
// activation of a mode gets a new epoch; results computed under an older
// epoch are stale.
type Machine struct {
	log       logstream.Appender
	speaker   speech.Speaker
	capture   capturer
	voice     listener
	assembler resetter
	tracker   subscriber
	periodFor func(models.Mode) time.Duration
	ctx       context.Context

	switchMu sync.Mutex

	mu             sync.Mutex
	mode           models.Mode
	epoch          uint64
	question       string
	questionSeq    uint64
	navInstruction string
}

// Mode returns the active mode and its epoch.
func (m *Machine) Mode() (models.Mode, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.epoch
}

// IsCurrent reports whether epoch is the live mode activation.
func (m *Machine) IsCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch == m.epoch
}

// Switch activates mode. It returns false when mode is already active.
// Camera modes sample frames for the whole activation, whether or not the
// user is listening.
func (m *Machine) Switch(mode models.Mode) (bool, error) {
	if !models.IsValidMode(mode) {
		return false, models.ErrUnknownMode
	}
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	if mode == m.mode && m.epoch > 0 {
		m.mu.Unlock()
		return false, nil
	}
	from := m.mode
	m.teardownLocked()
	m.mode = mode
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	slog.Info("Machine.Switch: mode switched", "from", from, "to", mode, "epoch", epoch)
	metrics.RecordModeSwitch(string(mode))
	m.log.Append(models.SenderSystem, models.CategoryAlert, "Mode switched: "+mode.Label())

	if mode == models.ModeNavigation {
		m.tracker.EnsureSubscribed()
	}
	if mode.UsesCamera() {
		if err := m.capture.Start(m.ctx, mode, epoch, m.periodFor(mode)); err != nil {
			slog.Warn("Machine.Switch: capture not started", "mode", mode, "error", err)
		}
	}
	return true, nil
}

// teardownLocked releases every resource of the current activation before
// the next one is created.
func (m *Machine) teardownLocked() {
	m.capture.Stop()
	m.voice.Stop()
	m.speaker.Stop()
	m.assembler.Reset()
	m.question = ""
	m.questionSeq++
	m.navInstruction = ""
}

// Toggle turns speech recognition on or off.
func (m *Machine) Toggle() (bool, error) {
	return m.voice.Toggle()
}

// SetQuestion replaces the pending question.
func (m *Machine) SetQuestion(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.question = text
	m.questionSeq++
}

// Question returns the pending question and its sequence number.
func (m *Machine) Question() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.question, m.questionSeq
}

// NavInstruction returns the last navigation answer of this activation.
func (m *Machine) NavInstruction() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.navInstruction
}

// applyIfCurrent runs fn while epoch is still live, holding the lock so no
// switch can interleave. fn must not call back into the Machine.
func (m *Machine) applyIfCurrent(epoch uint64, fn func(s *liveState)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return false
	}
	fn(&liveState{m: m})
	return true
}

// liveState is the mutable view handed to applyIfCurrent callbacks.
type liveState struct {
	m *Machine
}

// clearQuestion clears the pending question only if it is still the one
// identified by seq.
func (s *liveState) clearQuestion(seq uint64) {
	if s.m.questionSeq == seq {
		s.m.question = ""
		s.m.questionSeq++
	}
}

func (s *liveState) setNavInstruction(text string) {
	s.m.navInstruction = text
}

// shutdown tears down the current activation for process exit.
func (m *Machine) shutdown() {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.epoch++
}
