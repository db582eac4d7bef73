package handler

import (
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// ResellerHandler serves the reseller portal: balance, ledger and provisioning.
type ResellerHandler struct {
	resellers service.ResellerService
	i18n      *i18n.Manager
	logger    *slog.Logger
}

func NewResellerHandler(resellers service.ResellerService, i18nMgr *i18n.Manager, logger *slog.Logger) *ResellerHandler {
	return &ResellerHandler{resellers: resellers, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *ResellerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	reseller, err := h.resellers.ForUser(r.Context(), principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "reseller.summary", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reseller": reseller})
}

func (h *ResellerHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	reseller, err := h.resellers.ForUser(r.Context(), principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "reseller.ledger", err)
		return
	}
	limit, offset := pageParams(r)
	entries, err := h.resellers.Ledger(r.Context(), reseller.ID, limit, offset)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "reseller.ledger", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *ResellerHandler) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	var input service.ProvisionInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "reseller.provision", err)
		return
	}
	result, err := h.resellers.ProvisionUser(r.Context(), principal(r).UserID, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "reseller.provision", err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}
