// Package logstream implements the process-wide, append-only log of
// narration and audit records shared by the assistant and the workflow engine.
package logstream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/oklog/ulid/v2"
)

// DefaultSinkBuffer is the number of entries queued for sinks before new
// entries are dropped from the journal (never from the stream itself).
const DefaultSinkBuffer = 256

// Sink receives a copy of every appended entry, in append order.
type Sink interface {
	Write(ctx context.Context, entry models.LogEntry) error
	Close() error
}

// Appender is the narrow view other packages depend on.
type Appender interface {
	Append(sender models.Sender, category models.Category, message string) models.LogEntry
}

// Option configures a Stream.
type Option func(*Stream)

// WithClock sets the clock used for entry timestamps.
func WithClock(c timer.Clock) Option {
	return func(s *Stream) { s.clock = c }
}

// WithSink registers a journal sink.
func WithSink(sink Sink) Option {
	return func(s *Stream) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithSinkBuffer overrides DefaultSinkBuffer.
func WithSinkBuffer(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.sinkBuffer = n
		}
	}
}

// Stream is the append-only log. Entries are stored by value and never
// changed after Append returns.
type Stream struct {
	mu      sync.RWMutex
	entries []models.LogEntry
	seq     uint64
	clock   timer.Clock
	closed  bool

	subs    map[int]chan models.LogEntry
	nextSub int

	sinks      []Sink
	sinkBuffer int
	sinkCh     chan models.LogEntry
	sinkDone   chan struct{}
}

// New creates a Stream and starts the sink writer when sinks are configured.
func New(opts ...Option) *Stream {
	s := &Stream{
		clock:      timer.SystemClock{},
		subs:       make(map[int]chan models.LogEntry),
		sinkBuffer: DefaultSinkBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.sinks) > 0 {
		s.sinkCh = make(chan models.LogEntry, s.sinkBuffer)
		s.sinkDone = make(chan struct{})
		go s.runSinks()
	}
	slog.Debug("logstream.New: stream created", "sinks", len(s.sinks))
	return s
}

// Append records a new entry and returns it.
func (s *Stream) Append(sender models.Sender, category models.Category, message string) models.LogEntry {
	if category == "" {
		category = models.CategoryInfo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry := models.LogEntry{
		ID:        ulid.Make().String(),
		Seq:       s.seq,
		Timestamp: s.clock.Now(),
		Sender:    sender,
		Message:   message,
		Category:  category,
	}
	s.entries = append(s.entries, entry)
	metrics.RecordLogEntry(string(sender))

	if s.closed {
		return entry
	}
	for id, ch := range s.subs {
		select {
		case ch <- entry:
		default:
			slog.Warn("Stream.Append: subscriber too slow, entry skipped", "subscriber", id, "seq", entry.Seq)
		}
	}
	if s.sinkCh != nil {
		select {
		case s.sinkCh <- entry:
		default:
			slog.Warn("Stream.Append: journal buffer full, entry not journaled", "seq", entry.Seq)
		}
	}
	return entry
}

// Entries returns a copy of every entry in insertion order.
func (s *Stream) Entries() []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LogEntry(nil), s.entries...)
}

// Since returns the entries with a sequence number greater than seq.
func (s *Stream) Since(seq uint64) []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Seq is 1-based and dense, so it doubles as an index.
	if seq >= uint64(len(s.entries)) {
		return nil
	}
	return append([]models.LogEntry(nil), s.entries[seq:]...)
}

// Len returns the number of entries.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe returns a channel receiving every entry appended from now on and a
// cancel function. Slow subscribers miss entries rather than blocking Append.
func (s *Stream) Subscribe(buffer int) (<-chan models.LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.LogEntry, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close detaches subscribers, flushes queued entries to the sinks and closes them.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	sinkCh := s.sinkCh
	s.mu.Unlock()

	if sinkCh == nil {
		return nil
	}
	close(sinkCh)
	<-s.sinkDone

	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			slog.Error("Stream.Close: sink close failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Stream) runSinks() {
	defer close(s.sinkDone)
	ctx := context.Background()
	for entry := range s.sinkCh {
		for _, sink := range s.sinks {
			if err := sink.Write(ctx, entry); err != nil {
				slog.Error("Stream.runSinks: journal write failed", "error", err, "seq", entry.Seq)
			}
		}
	}
}
