package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Alerter delivers an internal message to operations staff.
type Alerter interface {
	Alert(ctx context.Context, title, body string) error
}

// LogAlerter writes alerts to the log. It never fails and is the last line of
// every alert chain.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Alert(_ context.Context, title, body string) error {
	a.log.Warn().Str("title", title).Str("body", body).Msg("admin alert")
	return nil
}

// EmailAlerter mails alerts to the admin address.
type EmailAlerter struct {
	sender EmailSender
	to     string
}

func NewEmailAlerter(sender EmailSender, to string) *EmailAlerter {
	return &EmailAlerter{sender: sender, to: to}
}

func (a *EmailAlerter) Alert(ctx context.Context, title, body string) error {
	return a.sender.Send(ctx, Email{
		To:       a.to,
		Subject:  "[Portal] " + title,
		HTMLBody: "<pre>" + html.EscapeString(body) + "</pre>",
	})
}

// maxSMSLength keeps alerts within a few SMS segments.
const maxSMSLength = 480

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioAlerter sends alerts as SMS.
type TwilioAlerter struct {
	api  messageCreator
	from string
	to   string
}

func NewTwilioAlerter(accountSID, authToken, from, to string) *TwilioAlerter {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioAlerter{api: client.Api, from: from, to: to}
}

func (a *TwilioAlerter) Alert(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := title + ": " + body
	if len(text) > maxSMSLength {
		text = text[:maxSMSLength-3] + "..."
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(a.to)
	params.SetFrom(a.from)
	params.SetBody(text)

	resp, err := a.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms alert: %w", err)
	}
	if resp != nil && resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("sms alert rejected: %s", *resp.ErrorMessage)
	}
	return nil
}

// MultiAlerter fans an alert out to every configured alerter and fails only when
// all of them fail.
type MultiAlerter struct {
	alerters []Alerter
}

func NewMultiAlerter(alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{alerters: alerters}
}

func (m *MultiAlerter) Alert(ctx context.Context, title, body string) error {
	var errs []error
	for _, a := range m.alerters {
		if err := a.Alert(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(m.alerters) > 0 && len(errs) == len(m.alerters) {
		return fmt.Errorf("all alerters failed: %w", errors.Join(errs...))
	}
	return nil
}
