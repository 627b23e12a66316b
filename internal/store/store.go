// Package store provides journal backends for the log stream.
//
// Journals are write-mostly: the daemon never reads its own state back, but
// Recent lets operators page through history after a restart.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/models"
)

// DSN types reported by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
)

// Journal persists log entries. It satisfies logstream.Sink.
type Journal interface {
	Write(ctx context.Context, entry models.LogEntry) error
	// Recent returns up to limit entries, oldest first.
	Recent(ctx context.Context, limit int) ([]models.LogEntry, error)
	Close() error
}

// Opts holds configuration for journal backends.
type Opts struct {
	DSN         string
	NATSURL     string
	NATSSubject string
}

// Option configures a journal backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithNATS sets the NATS server and base subject for published entries.
func WithNATS(url, subject string) Option {
	return func(o *Opts) {
		o.NATSURL = url
		o.NATSSubject = subject
	}
}

// DetectDSNType reports whether dsn addresses PostgreSQL or an SQLite file.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") || strings.Contains(d, "host=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// NewJournal opens the backend named by the DSN. An empty DSN gives an
// in-memory journal.
func NewJournal(opts ...Option) (Journal, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.NewJournal: no DSN, using in-memory journal")
		return NewInMemoryJournal(0), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case DSNTypePostgres:
		return NewPostgresJournal(WithPostgresDSN(cfg.DSN))
	default:
		return NewSQLiteJournal(WithSQLiteDSN(cfg.DSN))
	}
}

// DefaultMemoryCapacity bounds the in-memory journal.
const DefaultMemoryCapacity = 10000

// InMemoryJournal keeps the newest entries in memory.
type InMemoryJournal struct {
	mu       sync.Mutex
	entries  []models.LogEntry
	capacity int
}

// NewInMemoryJournal creates a journal holding at most capacity entries.
func NewInMemoryJournal(capacity int) *InMemoryJournal {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &InMemoryJournal{capacity: capacity}
}

func (j *InMemoryJournal) Write(ctx context.Context, entry models.LogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if over := len(j.entries) - j.capacity; over > 0 {
		j.entries = append([]models.LogEntry(nil), j.entries[over:]...)
	}
	return nil
}

func (j *InMemoryJournal) Recent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	start := len(j.entries) - limit
	if start < 0 {
		start = 0
	}
	return append([]models.LogEntry(nil), j.entries[start:]...), nil
}

func (j *InMemoryJournal) Close() error { return nil }
