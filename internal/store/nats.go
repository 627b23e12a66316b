package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the base subject; entries go to <base>.<sender>.
const DefaultNATSSubject = "jarvis.log"

// NATSPublisher fans log entries out to NATS subscribers. It is a
// logstream sink, not a Journal: NATS core keeps no history.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the server configured with WithNATS.
func NewNATSPublisher(opts ...Option) (*NATSPublisher, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = nats.DefaultURL
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = DefaultNATSSubject
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("jarvis-log"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Debug("store.NewNATSPublisher: connected", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	return &NATSPublisher{conn: conn, subject: cfg.NATSSubject}, nil
}

// SubjectFor returns the subject an entry is published on.
func SubjectFor(base string, sender models.Sender) string {
	s := strings.ToLower(string(sender))
	if s == "" {
		s = "unknown"
	}
	return base + "." + s
}

func (p *NATSPublisher) Write(ctx context.Context, e models.LogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	if err := p.conn.Publish(SubjectFor(p.subject, e.Sender), data); err != nil {
		return fmt.Errorf("publish log entry: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
