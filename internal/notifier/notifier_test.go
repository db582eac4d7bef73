package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerServiceRequiresRecipient(t *testing.T) {
	svc := NewLoggerService(nil)
	assert.ErrorIs(t, svc.SendEmail(context.Background(), EmailRequest{}), ErrNoRecipient)
	assert.ErrorIs(t, svc.SendEmail(context.Background(), EmailRequest{To: "not an address"}), ErrInvalidRecipient)
	assert.ErrorIs(t, svc.SendEmail(context.Background(), EmailRequest{To: "a@example.com"}), ErrNoTransport)
}

func TestUndeliverable(t *testing.T) {
	assert.True(t, Undeliverable(fmt.Errorf("wrap: %w", ErrInvalidRecipient)))
	assert.True(t, Undeliverable(ErrNoTransport))
	assert.False(t, Undeliverable(errors.New("smtp: connection refused")))
}

func TestSMTPMessageHeaders(t *testing.T) {
	svc, err := NewSMTPService(SMTPOptions{Host: "smtp.example.com", Username: "noreply@veo3.pk"})
	require.NoError(t, err)

	msg := svc.Message(EmailRequest{To: "user@example.com", Subject: "Plan expired", Body: "<b>hi</b>", HTML: true})
	assert.Equal(t, []string{"noreply@veo3.pk"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"Plan expired"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "text/html")
}

func TestNewSMTPServiceRequiresHost(t *testing.T) {
	_, err := NewSMTPService(SMTPOptions{})
	assert.Error(t, err)
}
