// Package speech renders narration. A Narrator keeps at most one utterance
// audible at a time: a new utterance cancels the previous one.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Speaker is the speech output sink consumed by the assistant and the flow engine.
type Speaker interface {
	Speak(text string)
	Stop()
}

// Engine renders one utterance, blocking until it finishes or ctx is cancelled.
// A Narrator never calls Render while a previous Render is still running.
type Engine interface {
	Render(ctx context.Context, text string) error
}

// Narrator serializes utterances over an Engine.
type Narrator struct {
	engine Engine

	mu      sync.Mutex
	gen     uint64
	current string
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewNarrator creates a Narrator over engine.
func NewNarrator(engine Engine) *Narrator {
	return &Narrator{engine: engine}
}

// Speak cancels any utterance in progress and starts text once the previous
// render has returned. It does not block.
func (n *Narrator) Speak(text string) {
	if text == "" {
		return
	}
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.gen++
	gen := n.gen
	n.cancel = cancel
	n.current = text
	prev := n.done
	done := make(chan struct{})
	n.done = done
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		var err error
		if ctx.Err() == nil {
			err = n.engine.Render(ctx, text)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Narrator.Speak: render failed", "error", err)
		}
		n.mu.Lock()
		if n.gen == gen {
			n.current = ""
			n.cancel = nil
		}
		n.mu.Unlock()
		cancel()
	}()
}

// Stop silences the utterance in progress, if any.
func (n *Narrator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.gen++
	n.current = ""
}

// Speaking returns the utterance currently being rendered.
func (n *Narrator) Speaking() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current, n.current != ""
}

// Close stops speech and waits for render goroutines to exit.
func (n *Narrator) Close() {
	n.Stop()
	n.wg.Wait()
}

// LogEngine "speaks" by logging, for headless runs.
type LogEngine struct{}

func (LogEngine) Render(ctx context.Context, text string) error {
	slog.Info("LogEngine.Render: speaking", "text", text)
	return nil
}

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// LatestFileName is the file the OpenAIEngine keeps the last utterance in.
const LatestFileName = "latest.mp3"

// OpenAIEngine synthesizes audio and publishes it as <dir>/latest.mp3 for the
// client to play. Cancelled utterances are never published.
type OpenAIEngine struct {
	synth Synthesizer
	dir   string
}

// NewOpenAIEngine creates the audio directory if needed.
func NewOpenAIEngine(synth Synthesizer, dir string) (*OpenAIEngine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create speech dir: %w", err)
	}
	return &OpenAIEngine{synth: synth, dir: dir}, nil
}

// LatestPath returns where the most recent utterance is stored.
func (e *OpenAIEngine) LatestPath() string {
	return filepath.Join(e.dir, LatestFileName)
}

func (e *OpenAIEngine) Render(ctx context.Context, text string) error {
	audio, err := e.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(e.dir, "utterance-*.mp3")
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close audio file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.LatestPath()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish audio: %w", err)
	}
	slog.Debug("OpenAIEngine.Render: utterance published", "bytes", len(audio), "path", e.LatestPath())
	return nil
}
