// Package notify delivers watcher notifications.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("notify: no recipients")

// Notifier sends one message.
type Notifier interface {
	Send(ctx context.Context, msg models.Message) error
}

type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// SMTP sends mail through a submission server.
type SMTP struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
	send   sendFunc
}

// NewSMTP builds an SMTP notifier.
func NewSMTP(cfg config.SMTPConfig, logger *slog.Logger) *SMTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Send delivers msg. Servers that do not offer AUTH get an unauthenticated
// retry.
func (s *SMTP) Send(ctx context.Context, msg models.Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	e, err := buildEmail(s.cfg.From, msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		err := s.send(e, addr, auth)
		if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
			err = s.send(e, addr, nil)
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", addr, err)
		}
	}

	s.logger.Info("notification sent",
		slog.String("subject", msg.Subject),
		slog.Int("recipients", len(msg.To)),
		slog.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

func buildEmail(from string, msg models.Message) (*email.Email, error) {
	e := email.NewEmail()
	e.From = from
	e.To = append([]string(nil), msg.To...)
	e.Subject = msg.Subject
	if msg.Text != "" {
		e.Text = []byte(msg.Text)
	}
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	for _, a := range msg.Attachments {
		mimeType := a.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		if _, err := e.Attach(bytes.NewReader(a.Data), a.Filename, mimeType); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return e, nil
}

// LogSink writes messages to the log instead of sending them.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs msg.
func (l LogSink) Send(ctx context.Context, msg models.Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	logger.Info("dry run notification",
		slog.String("to", strings.Join(msg.To, ",")),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
		slog.Any("attachments", names),
	)
	return nil
}
