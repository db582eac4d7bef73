package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

type batchRunner func(ctx context.Context, userID int64, in service.BatchInput, r service.Reporter) (*service.BatchSummary, error)

// BatchHandler streams multi-prompt generation over SSE. Disconnecting the
// client cancels the request context, which stops new upstream calls.
type BatchHandler struct {
	batch     service.BatchService
	heartbeat time.Duration
	i18n      *i18n.Manager
	logger    *slog.Logger
}

func NewBatchHandler(batch service.BatchService, heartbeat time.Duration, i18nMgr *i18n.Manager, logger *slog.Logger) *BatchHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &BatchHandler{batch: batch, heartbeat: heartbeat, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *BatchHandler) VideoStream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "video.batch", h.batch.RunVideo)
}

func (h *BatchHandler) ImageStream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "image.batch", h.batch.RunImage)
}

func (h *BatchHandler) stream(w http.ResponseWriter, r *http.Request, action string, run batchRunner) {
	var input service.BatchInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}

	events := newEventStream(w)
	go events.Heartbeat(h.heartbeat)
	defer events.Close()

	_, err := run(r.Context(), principal(r).UserID, input, events)
	if err == nil {
		return
	}
	if !events.Started() {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	status, key := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("batch stream failed", "action", action, "error", err)
	}
	_ = events.Emit(service.EventError, map[string]any{
		"message":  translate(r.Context(), h.i18n, key),
		"category": service.Categorize(err),
		"code":     key,
	})
}
