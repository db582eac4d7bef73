package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var errStreamClosed = errors.New("event stream closed")

// eventStream writes server-sent events. Headers go out with the first event so
// requests rejected before any work can still be answered with plain JSON.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
}

func newEventStream(w http.ResponseWriter) *eventStream {
	return &eventStream{w: w, rc: http.NewResponseController(w), stop: make(chan struct{})}
}

// Emit implements service.Reporter.
func (s *eventStream) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.begin()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.closed = true
		return err
	}
	return s.flush()
}

// Started reports whether any event was written.
func (s *eventStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Heartbeat writes a comment line every interval so idle proxies keep the
// connection open. It returns once Close is called.
func (s *eventStream) Heartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.started && !s.closed {
				if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
					s.closed = true
				} else {
					_ = s.flush()
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the heartbeat; later Emit calls fail.
func (s *eventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *eventStream) begin() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *eventStream) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.closed = true
		return err
	}
	return nil
}
