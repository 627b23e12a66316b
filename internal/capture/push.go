package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/metrics"
)

// ErrNotCapturing is returned by Push while no camera mode is active.
var ErrNotCapturing = errors.New("capture is not active")

// PushSource is a Source fed by the client over HTTP. It keeps only the
// latest frame; an unconsumed frame is replaced by a newer one.
type PushSource struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	data     []byte
	mimeType string
	fresh    bool
}

// NewPushSource creates an empty PushSource.
func NewPushSource() *PushSource {
	return &PushSource{}
}

// Push stores a frame for the next tick.
func (p *PushSource) Push(data []byte, mimeType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotCapturing
	}
	if p.fresh {
		metrics.RecordFrameDropped(metrics.DropInboxOverride)
	}
	p.data = append([]byte(nil), data...)
	p.mimeType = mimeType
	p.fresh = true
	return nil
}

func (p *PushSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSourceUnavailable
	}
	p.started = true
	return nil
}

func (p *PushSource) Grab() ([]byte, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || !p.fresh {
		return nil, "", false
	}
	p.fresh = false
	return p.data, p.mimeType, true
}

func (p *PushSource) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.fresh = false
	p.data = nil
}

// Capturing reports whether frames are currently accepted.
func (p *PushSource) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Close makes the source permanently unavailable.
func (p *PushSource) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.started = false
	p.fresh = false
	p.data = nil
}
