package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AdminSettingsHandler reads and writes the three settings groups.
type AdminSettingsHandler struct {
	settings service.SettingsService
	i18n     *i18n.Manager
	logger   *slog.Logger
}

func NewAdminSettingsHandler(settings service.SettingsService, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminSettingsHandler {
	return &AdminSettingsHandler{settings: settings, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AdminSettingsHandler) GetMaintenance(w http.ResponseWriter, r *http.Request) {
	getSettings(h, w, r, "admin.settings.maintenance", h.settings.Maintenance)
}

func (h *AdminSettingsHandler) PutMaintenance(w http.ResponseWriter, r *http.Request) {
	putSettings(h, w, r, "admin.settings.maintenance", h.settings.UpdateMaintenance, h.settings.Maintenance)
}

func (h *AdminSettingsHandler) GetAffiliate(w http.ResponseWriter, r *http.Request) {
	getSettings(h, w, r, "admin.settings.affiliate", h.settings.Affiliate)
}

func (h *AdminSettingsHandler) PutAffiliate(w http.ResponseWriter, r *http.Request) {
	putSettings(h, w, r, "admin.settings.affiliate", h.settings.UpdateAffiliate, h.settings.Affiliate)
}

func (h *AdminSettingsHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	getSettings(h, w, r, "admin.settings.generation", h.settings.Generation)
}

func (h *AdminSettingsHandler) PutGeneration(w http.ResponseWriter, r *http.Request) {
	putSettings(h, w, r, "admin.settings.generation", h.settings.UpdateGeneration, h.settings.Generation)
}

func getSettings[T any](h *AdminSettingsHandler, w http.ResponseWriter, r *http.Request, action string, read func(context.Context) (T, error)) {
	value, err := read(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	respondJSON(w, http.StatusOK, value)
}

// putSettings replaces the whole group, then echoes the stored values.
func putSettings[T any](h *AdminSettingsHandler, w http.ResponseWriter, r *http.Request, action string, write func(context.Context, T) error, read func(context.Context) (T, error)) {
	var value T
	if err := decodeJSON(r, &value); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	if err := write(r.Context(), value); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	stored, err := read(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, stored)
}
