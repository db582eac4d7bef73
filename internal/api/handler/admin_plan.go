package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AdminPlanHandler edits the plan catalog. Plans are fixed; only limits and prices change.
type AdminPlanHandler struct {
	plans  service.PlanService
	i18n   *i18n.Manager
	logger *slog.Logger
}

func NewAdminPlanHandler(plans service.PlanService, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminPlanHandler {
	return &AdminPlanHandler{plans: plans, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AdminPlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.plan.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *AdminPlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.GetPlan(r.Context(), chi.URLParam(r, "planType"))
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.plan.get", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

func (h *AdminPlanHandler) Update(w http.ResponseWriter, r *http.Request) {
	var plan repository.Plan
	if err := decodeJSON(r, &plan); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.plan.update", err)
		return
	}
	plan.PlanType = chi.URLParam(r, "planType")
	updated, err := h.plans.UpdatePlan(r.Context(), plan)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.plan.update", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, updated)
}
