package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/wneessen/go-mail"
)

// Attachment is a file sent along with an email.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Email is a rendered message ready to send.
type Email struct {
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
	// MessageID, when set, is reused on resend so mail clients thread duplicates.
	MessageID string
}

type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// LogSender logs outbound mail instead of delivering it. Used when no SMTP relay
// is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, e Email) error {
	s.log.Info().
		Str("to", e.To).
		Str("subject", e.Subject).
		Strs("attachments", lo.Map(e.Attachments, func(a Attachment, _ int) string { return a.Name })).
		Msg("mail delivery disabled, message logged")
	return nil
}

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is empty")
	}
	if cfg.From == "" {
		return nil, errors.New("mail sender address is empty")
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Send(ctx context.Context, e Email) error {
	msg, err := s.message(e)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", e.To, err)
	}
	return nil
}

func (s *SMTPSender) message(e Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(e.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", e.To, err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextHTML, e.HTMLBody)
	if e.MessageID != "" {
		msg.SetMessageIDWithValue(e.MessageID)
	}
	for _, a := range e.Attachments {
		var fileOpts []mail.FileOption
		if a.ContentType != "" {
			fileOpts = append(fileOpts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Data), fileOpts...); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", a.Name, err)
		}
	}
	return msg, nil
}
