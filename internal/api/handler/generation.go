package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// GenerationHandler serves single video/image generation and history endpoints.
type GenerationHandler struct {
	gen    service.GenerationService
	media  service.MediaService
	i18n   *i18n.Manager
	logger *slog.Logger
}

func NewGenerationHandler(gen service.GenerationService, media service.MediaService, i18nMgr *i18n.Manager, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{gen: gen, media: media, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

type historyIDRequest struct {
	ID int64 `json:"id"`
}

func (h *GenerationHandler) StartVideo(w http.ResponseWriter, r *http.Request) {
	var input service.GenerationInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "video.start", err)
		return
	}
	rec, err := h.gen.StartVideo(r.Context(), principal(r).UserID, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "video.start", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"history": rec})
}

func (h *GenerationHandler) CheckVideoStatus(w http.ResponseWriter, r *http.Request) {
	var req historyIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "video.status", err)
		return
	}
	rec, err := h.gen.CheckStatus(r.Context(), principal(r).UserID, req.ID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "video.status", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": rec})
}

func (h *GenerationHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	var req historyIDRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "generation.regenerate", err)
		return
	}
	rec, err := h.gen.Regenerate(r.Context(), principal(r).UserID, req.ID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "generation.regenerate", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"history": rec})
}

func (h *GenerationHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var input service.GenerationInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "image.generate", err)
		return
	}
	rec, err := h.gen.GenerateImage(r.Context(), principal(r).UserID, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "image.generate", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": rec})
}

// VideoHistory also serves the batch polling fallback via ?batch_id=.
func (h *GenerationHandler) VideoHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, repository.KindVideo)
}

func (h *GenerationHandler) ImageHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, repository.KindImage)
}

func (h *GenerationHandler) history(w http.ResponseWriter, r *http.Request, kind string) {
	limit, offset := pageParams(r)
	q := r.URL.Query()
	page, err := h.gen.List(r.Context(), principal(r).UserID, service.HistoryQuery{
		Kind:    kind,
		BatchID: q.Get("batch_id"),
		Status:  q.Get("status"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, kind+".history", err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *GenerationHandler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, repository.KindVideo)
}

func (h *GenerationHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, repository.KindImage)
}

func (h *GenerationHandler) delete(w http.ResponseWriter, r *http.Request, kind string) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.gen.Delete(r.Context(), principal(r).UserID, kind, id)
	}
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, kind+".delete", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.deleted", h.i18n, nil)
}

type downloadRequest struct {
	IDs []int64 `json:"ids"`
}

// Download zips completed rows. The archive is buffered so a failure can still
// be reported as JSON.
func (h *GenerationHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "history.download", err)
		return
	}
	var buf bytes.Buffer
	n, err := h.media.Bundle(r.Context(), principal(r).UserID, req.IDs, &buf)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "history.download", err)
		return
	}
	name := fmt.Sprintf("veo3-%s.zip", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Item-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
