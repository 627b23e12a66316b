package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresJournal implements Journal.
var _ Journal = (*PostgresJournal)(nil)

// PostgresJournal stores log entries in PostgreSQL.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal connects and applies migrations.
func NewPostgresJournal(opts ...Option) (*PostgresJournal, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresJournal.NewPostgresJournal: creating Postgres journal", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresJournal DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresJournal{db: db}, nil
}

func (s *PostgresJournal) Write(ctx context.Context, e models.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_entries (id, seq, ts, sender, category, message) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Seq, e.Timestamp, string(e.Sender), string(e.Category), e.Message,
	)
	if err != nil {
		return fmt.Errorf("insert log entry failed: %w", err)
	}
	return nil
}

func (s *PostgresJournal) Recent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, ts, sender, category, message FROM log_entries ORDER BY ts DESC, seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query log entries failed: %w", err)
	}
	return scanEntries(rows)
}

// Close closes the database connection.
func (s *PostgresJournal) Close() error {
	slog.Debug("PostgresJournal.Close: closing database connection")
	return s.db.Close()
}
