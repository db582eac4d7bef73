package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/veo3pk/studio/internal/job"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// JobRunner is the slice of the scheduler the admin surface uses.
type JobRunner interface {
	Entries() []job.Entry
	RunNow(ctx context.Context, name string) error
}

// AdminSystemHandler serves host status, cross-user history and background jobs.
type AdminSystemHandler struct {
	system service.AdminSystemService
	gen    service.GenerationService
	jobs   JobRunner
	i18n   *i18n.Manager
	logger *slog.Logger
}

// NewAdminSystemHandler accepts a nil jobs runner when the scheduler is disabled.
func NewAdminSystemHandler(system service.AdminSystemService, gen service.GenerationService, jobs JobRunner, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminSystemHandler {
	return &AdminSystemHandler{system: system, gen: gen, jobs: jobs, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AdminSystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.system.SystemStatus(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.system.status", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// History lists generation rows across all users.
func (h *AdminSystemHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	q := r.URL.Query()
	query := service.HistoryQuery{
		Kind:    q.Get("kind"),
		BatchID: q.Get("batch_id"),
		Status:  q.Get("status"),
		Limit:   limit,
		Offset:  offset,
	}
	if raw := q.Get("user_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			query.UserID = id
		}
	}
	page, err := h.gen.ListAll(r.Context(), query)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.history", err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *AdminSystemHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	entries := []job.Entry{}
	if h.jobs != nil {
		entries = h.jobs.Entries()
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}

func (h *AdminSystemHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		RespondErrorI18n(r.Context(), w, http.StatusNotFound, "error.not_found", h.i18n)
		return
	}
	err := h.jobs.RunNow(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, job.ErrUnknownJob) {
		RespondErrorI18n(r.Context(), w, http.StatusNotFound, "error.not_found", h.i18n)
		return
	}
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.job.run", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, nil)
}
