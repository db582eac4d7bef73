package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStreamWritesHeadersLazily(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newEventStream(rec)
	assert.False(t, s.Started())
	assert.Empty(t, rec.Header().Get("Content-Type"))

	require.NoError(t, s.Emit("batch_started", map[string]any{"batchId": "b1", "total": 2}))
	assert.True(t, s.Started())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "event: batch_started\ndata: {\"batchId\":\"b1\",\"total\":2}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestEventStreamRejectsEmitAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newEventStream(rec)
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Emit("complete", map[string]int{"total": 1}), errStreamClosed)
	assert.False(t, s.Started())
}

func TestEventStreamHeartbeatsOnlyAfterStart(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newEventStream(rec)
	done := make(chan struct{})
	go func() {
		s.Heartbeat(5 * time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	assert.Empty(t, rec.Body.String())
	s.mu.Unlock()

	require.NoError(t, s.Emit("progress", map[string]int{"index": 0}))
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return strings.Contains(rec.Body.String(), ": ping\n\n")
	}, time.Second, 5*time.Millisecond)
	s.Close()
	<-done
}
