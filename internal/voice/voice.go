// Package voice runs the continuous speech recognition loop that turns final
// transcripts into pending questions.
package voice

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/models"
)

// Log stream messages.
const (
	MsgUnavailable = "Speech API unavailable."
	MsgListening   = "Listening..."
)

// ErrUnavailable is returned when no recognition engine exists.
var ErrUnavailable = errors.New("speech recognition unavailable")

// Result is one recognition hypothesis.
type Result struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

// Handlers receive session events. They may be called from any goroutine.
type Handlers struct {
	OnStart  func()
	OnResult func(results []Result)
	OnEnd    func()
}

// Session is one running recognition session.
type Session interface {
	Stop()
}

// Recognizer starts recognition sessions.
type Recognizer interface {
	Available() bool
	Start(h Handlers) (Session, error)
}

// Option configures a Loop.
type Option func(*Loop)

// WithActiveHook is called with true when listening begins and false when it
// ends. The hook may run with caller locks held and must not block.
func WithActiveHook(fn func(active bool)) Option {
	return func(l *Loop) { l.onActive = fn }
}

// Loop keeps a session running while the user intends to listen.
type Loop struct {
	rec        Recognizer
	log        logstream.Appender
	onQuestion func(text string)
	onActive   func(active bool)

	mu      sync.Mutex
	intent  bool
	active  bool
	gen     uint64
	session Session
	interim string
}

// NewLoop creates an idle Loop. onQuestion receives each final transcript.
func NewLoop(rec Recognizer, log logstream.Appender, onQuestion func(text string), opts ...Option) *Loop {
	l := &Loop{rec: rec, log: log, onQuestion: onQuestion}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Toggle turns listening on or off and returns the resulting intent.
func (l *Loop) Toggle() (bool, error) {
	l.mu.Lock()
	if l.intent || l.active {
		sess := l.haltLocked()
		l.mu.Unlock()
		if sess != nil {
			sess.Stop()
		}
		slog.Info("Loop.Toggle: listening stopped")
		l.notifyActive(false)
		return false, nil
	}
	l.mu.Unlock()

	if l.rec == nil || !l.rec.Available() {
		l.log.Append(models.SenderSystem, models.CategoryAlert, MsgUnavailable)
		return false, ErrUnavailable
	}

	l.mu.Lock()
	l.intent = true
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	if err := l.startSession(gen); err != nil {
		if errors.Is(err, ErrUnavailable) {
			l.log.Append(models.SenderSystem, models.CategoryAlert, MsgUnavailable)
		}
		return false, err
	}
	return true, nil
}

// Stop ends listening without auto-restart. Used during mode teardown.
func (l *Loop) Stop() {
	l.mu.Lock()
	wasActive := l.active
	sess := l.haltLocked()
	l.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
	if wasActive {
		l.notifyActive(false)
	}
}

// Active reports whether a session is listening.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Interim returns the live, not yet final transcript.
func (l *Loop) Interim() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interim
}

func (l *Loop) haltLocked() Session {
	sess := l.session
	l.session = nil
	l.intent = false
	l.active = false
	l.interim = ""
	l.gen++
	return sess
}

// startSession must be called without the lock held; recognizers may fire
// OnStart synchronously.
func (l *Loop) startSession(gen uint64) error {
	sess, err := l.rec.Start(Handlers{
		OnStart:  func() { l.handleStart(gen) },
		OnResult: func(results []Result) { l.handleResult(gen, results) },
		OnEnd:    func() { l.handleEnd(gen) },
	})

	l.mu.Lock()
	if err != nil {
		if gen == l.gen {
			l.intent = false
			l.active = false
		}
		l.mu.Unlock()
		slog.Error("Loop.startSession: recognizer failed to start", "error", err)
		return err
	}
	if gen != l.gen {
		l.mu.Unlock()
		sess.Stop()
		return nil
	}
	l.session = sess
	l.mu.Unlock()
	return nil
}

func (l *Loop) handleStart(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || !l.intent {
		l.mu.Unlock()
		return
	}
	wasActive := l.active
	l.active = true
	l.mu.Unlock()

	if !wasActive {
		l.log.Append(models.SenderSystem, models.CategoryInfo, MsgListening)
		l.notifyActive(true)
	}
}

func (l *Loop) handleResult(gen uint64, results []Result) {
	var final, interim strings.Builder
	for _, r := range results {
		if r.Final {
			final.WriteString(r.Transcript)
		} else {
			interim.WriteString(r.Transcript)
		}
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.interim = interim.String()
	l.mu.Unlock()

	text := strings.TrimSpace(final.String())
	if text == "" {
		return
	}
	if l.onQuestion != nil {
		l.onQuestion(text)
	}
	l.log.Append(models.SenderUser, models.CategoryTranscription, `"`+text+`"`)
}

func (l *Loop) handleEnd(gen uint64) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.session = nil
	if !l.intent {
		l.active = false
		l.mu.Unlock()
		l.notifyActive(false)
		return
	}
	l.gen++
	next := l.gen
	l.mu.Unlock()

	slog.Debug("Loop.handleEnd: session ended, restarting")
	if err := l.startSession(next); err != nil {
		l.mu.Lock()
		stillCurrent := next == l.gen
		l.mu.Unlock()
		if stillCurrent {
			l.notifyActive(false)
		}
	}
}

func (l *Loop) notifyActive(active bool) {
	if l.onActive != nil {
		l.onActive(active)
	}
}
