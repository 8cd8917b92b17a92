package notify_test

import (
	"context"
	"testing"

	"client-portal/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTPSender_Validation(t *testing.T) {
	_, err := notify.NewSMTPSender(notify.SMTPConfig{From: "billing@example.com"})
	assert.Error(t, err)

	_, err = notify.NewSMTPSender(notify.SMTPConfig{Host: "localhost"})
	assert.Error(t, err)
}

func TestSMTPSender_RejectsBadRecipient(t *testing.T) {
	s, err := notify.NewSMTPSender(notify.SMTPConfig{Host: "localhost", Port: 2525, From: "billing@example.com"})
	require.NoError(t, err)

	err = s.Send(context.Background(), notify.Email{To: "not an address", Subject: "x", HTMLBody: "<p>x</p>"})
	assert.ErrorContains(t, err, "invalid recipient")
}
