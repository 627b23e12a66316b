package voice

import (
	"errors"
	"sync"
)

// ErrNoSession is returned when events arrive while no session is running.
var ErrNoSession = errors.New("no recognition session")

// PushRecognizer is a Recognizer whose events are delivered by the client
// over HTTP. The client reports whether it has a recognition engine.
type PushRecognizer struct {
	mu        sync.Mutex
	available bool
	id        uint64
	handlers  *Handlers
}

// NewPushRecognizer creates an available recognizer.
func NewPushRecognizer() *PushRecognizer {
	return &PushRecognizer{available: true}
}

// SetAvailable records the client's recognition capability.
func (p *PushRecognizer) SetAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = ok
}

func (p *PushRecognizer) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *PushRecognizer) Start(h Handlers) (Session, error) {
	p.mu.Lock()
	if !p.available {
		p.mu.Unlock()
		return nil, ErrUnavailable
	}
	p.id++
	sess := &pushSession{rec: p, id: p.id}
	p.handlers = &h
	p.mu.Unlock()

	if h.OnStart != nil {
		h.OnStart()
	}
	return sess, nil
}

// Running reports whether a session is open.
func (p *PushRecognizer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers != nil
}

// Deliver forwards recognition results to the running session.
func (p *PushRecognizer) Deliver(results []Result) error {
	p.mu.Lock()
	h := p.handlers
	p.mu.Unlock()
	if h == nil {
		return ErrNoSession
	}
	if h.OnResult != nil {
		h.OnResult(results)
	}
	return nil
}

// End reports that the client's session ended on its own.
func (p *PushRecognizer) End() error {
	p.mu.Lock()
	h := p.handlers
	p.handlers = nil
	p.mu.Unlock()
	if h == nil {
		return ErrNoSession
	}
	if h.OnEnd != nil {
		h.OnEnd()
	}
	return nil
}

type pushSession struct {
	rec *PushRecognizer
	id  uint64
}

func (s *pushSession) Stop() {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	if s.rec.id == s.id {
		s.rec.handlers = nil
	}
}
