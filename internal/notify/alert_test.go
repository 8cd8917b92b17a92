package notify_test

import (
	"context"
	"errors"
	"testing"

	"client-portal/internal/logger"
	"client-portal/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []notify.Email
	err  error
}

func (s *recordingSender) Send(_ context.Context, e notify.Email) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, e)
	return nil
}

type failingAlerter struct{ err error }

func (a failingAlerter) Alert(context.Context, string, string) error { return a.err }

func TestEmailAlerter(t *testing.T) {
	sender := &recordingSender{}
	a := notify.NewEmailAlerter(sender, "ops@example.com")

	require.NoError(t, a.Alert(context.Background(), "Invoice email failed", "send <RE-2026-00001> manually"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].To)
	assert.Equal(t, "[Portal] Invoice email failed", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTMLBody, "&lt;RE-2026-00001&gt;")
}

func TestMultiAlerter(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	partial := notify.NewMultiAlerter(failingAlerter{boom}, notify.NewLogAlerter(logger.Nop()))
	assert.NoError(t, partial.Alert(ctx, "t", "b"), "one working alerter is enough")

	none := notify.NewMultiAlerter(failingAlerter{boom}, failingAlerter{errors.New("bang")})
	err := none.Alert(ctx, "t", "b")
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, notify.NewMultiAlerter().Alert(ctx, "t", "b"))
}
