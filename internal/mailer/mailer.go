// Package mailer delivers outbound notifications. SMTP sends through
// go-mail with a token-bucket throttle; Log only writes to the log and is
// used when no SMTP host is configured.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// RPS caps outbound messages per second; zero disables the throttle.
	RPS float64
}

// sender is the part of *mail.Client SMTP uses.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTP sends plain-text mail.
type SMTP struct {
	from    string
	client  sender
	limiter *rate.Limiter
}

// NewSMTP builds an SMTP mailer. Auth is only enabled when a username is set.
func NewSMTP(cfg Config) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mailer: SMTP host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: from address is required")
	}
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	return newSMTP(cfg, c), nil
}

func newSMTP(cfg Config, c sender) *SMTP {
	s := &SMTP{from: cfg.From, client: c}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return s
}

// Send delivers one message, waiting for the throttle first.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("mailer: from: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("mailer: to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	return nil
}

// Log writes messages to the log instead of sending them.
type Log struct{}

func (Log) Send(_ context.Context, to, subject, body string) error {
	log.Info().Str("to", to).Str("subject", subject).Int("bytes", len(body)).Msg("mail (log only)")
	return nil
}
