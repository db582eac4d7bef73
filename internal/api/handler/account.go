package handler

import (
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AccountHandler exposes the plan catalog, maintenance flags and quota usage.
type AccountHandler struct {
	plans    service.PlanService
	settings service.SettingsService
	i18n     *i18n.Manager
	logger   *slog.Logger
}

func NewAccountHandler(plans service.PlanService, settings service.SettingsService, i18nMgr *i18n.Manager, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{plans: plans, settings: settings, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AccountHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "plans.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *AccountHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	flags, err := h.settings.Maintenance(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "maintenance.get", err)
		return
	}
	respondJSON(w, http.StatusOK, flags)
}

func (h *AccountHandler) Quota(w http.ResponseWriter, r *http.Request) {
	status, err := h.plans.Quota(r.Context(), principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "quota.get", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
