package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteJournal implements Journal.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal stores log entries in an SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the database file and applies migrations.
func NewSQLiteJournal(opts ...Option) (*SQLiteJournal, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteJournal invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteJournal DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY from the journal goroutine racing readers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)
	return &SQLiteJournal{db: db}, nil
}

func (s *SQLiteJournal) Write(ctx context.Context, e models.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO log_entries (id, seq, ts, sender, category, message) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Seq, e.Timestamp, string(e.Sender), string(e.Category), e.Message,
	)
	if err != nil {
		return fmt.Errorf("insert log entry failed: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) Recent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, ts, sender, category, message FROM log_entries ORDER BY ts DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query log entries failed: %w", err)
	}
	return scanEntries(rows)
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	slog.Debug("SQLiteJournal.Close: closing database connection")
	return s.db.Close()
}
