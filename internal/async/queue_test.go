package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/notifier"
)

var _ notifier.Service = (*EmailQueue)(nil)

func TestEmailQueueEnqueuesAndDrains(t *testing.T) {
	q := NewEmailQueue(0)
	ctx := context.Background()

	require.NoError(t, q.SendEmail(ctx, notifier.EmailRequest{To: "a@example.com", Subject: "one"}))
	require.NoError(t, q.SendEmail(ctx, notifier.EmailRequest{To: "b@example.com", Subject: "two"}))
	assert.ErrorIs(t, q.SendEmail(ctx, notifier.EmailRequest{}), notifier.ErrNoRecipient)
	assert.Equal(t, 2, q.PendingEmails())

	drained := q.DrainEmails()
	require.Len(t, drained, 2)
	assert.Equal(t, 0, q.PendingEmails())

	require.NoError(t, q.SendEmail(ctx, notifier.EmailRequest{To: "c@example.com", Subject: "three"}))
	q.RequeueEmails(drained[1:])
	again := q.DrainEmails()
	require.Len(t, again, 2)
	assert.Equal(t, "two", again[0].Subject)
	assert.Equal(t, "three", again[1].Subject)
}

func TestEmailQueueDropsOldestWhenFull(t *testing.T) {
	q := NewEmailQueue(2)
	ctx := context.Background()
	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, q.SendEmail(ctx, notifier.EmailRequest{To: "x@example.com", Subject: s}))
	}
	assert.Equal(t, 2, q.PendingEmails())
	assert.Equal(t, 1, q.DroppedEmails())

	got := q.DrainEmails()
	assert.Equal(t, "two", got[0].Subject)
	assert.Equal(t, "three", got[1].Subject)
}
