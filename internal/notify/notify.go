// Package notify reaches the emergency contact by SMS through Twilio.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrNotConfigured is returned when Twilio credentials or numbers are missing.
var ErrNotConfigured = errors.New("twilio notifier not configured")

// messageAPI is the slice of the Twilio REST API used here.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithTo sets the emergency contact number.
func WithTo(to string) Option {
	return func(o *Opts) { o.To = to }
}

// TwilioNotifier sends one SMS per notification.
type TwilioNotifier struct {
	api  messageAPI
	from string
	to   string
}

// NewTwilioNotifier builds a notifier. Missing options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and
// EMERGENCY_CONTACT_NUMBER.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	cfg := resolve(opts)
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: account SID and auth token must be provided", ErrNotConfigured)
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("%w: from and to numbers must be provided", ErrNotConfigured)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newWithAPI(client.Api, cfg.From, cfg.To), nil
}

func newWithAPI(api messageAPI, from, to string) *TwilioNotifier {
	return &TwilioNotifier{api: api, from: normalizeNumber(from), to: normalizeNumber(to)}
}

func resolve(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("EMERGENCY_CONTACT_NUMBER")
	}
	return cfg
}

// normalizeNumber strips the punctuation people write in phone numbers,
// keeping a leading plus.
func normalizeNumber(n string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(n) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// To returns the normalized contact number.
func (n *TwilioNotifier) To() string { return n.to }

// Notify sends message to the emergency contact.
func (n *TwilioNotifier) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(message)

	resp, err := n.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier.Notify: send failed", "to", n.to, "error", err)
		return fmt.Errorf("failed to send emergency SMS to %s: %w", n.to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("TwilioNotifier.Notify: emergency SMS sent", "to", n.to, "sid", sid)
	return nil
}
