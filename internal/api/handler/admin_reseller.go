package handler

import (
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AdminResellerHandler manages reseller accounts and their credit ledger.
type AdminResellerHandler struct {
	resellers service.ResellerService
	i18n      *i18n.Manager
	logger    *slog.Logger
}

func NewAdminResellerHandler(resellers service.ResellerService, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminResellerHandler {
	return &AdminResellerHandler{resellers: resellers, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AdminResellerHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.resellers.List(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"resellers": items})
}

func (h *AdminResellerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateResellerInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.create", err)
		return
	}
	reseller, err := h.resellers.Create(r.Context(), input, principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.create", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"reseller": reseller})
}

// Get returns the reseller together with a balance-vs-ledger reconciliation.
func (h *AdminResellerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.get", err)
		return
	}
	reseller, err := h.resellers.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.get", err)
		return
	}
	audit, err := h.resellers.Audit(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.get", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reseller": reseller, "audit": audit})
}

type topUpRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

func (h *AdminResellerHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.topup", err)
		return
	}
	var req topUpRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.topup", err)
		return
	}
	entry, err := h.resellers.TopUp(r.Context(), id, req.Amount, principal(r).UserID, req.Note)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.topup", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, entry)
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *AdminResellerHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.active", err)
		return
	}
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.active", err)
		return
	}
	if err := h.resellers.SetActive(r.Context(), id, req.Active); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.active", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, nil)
}

func (h *AdminResellerHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.ledger", err)
		return
	}
	limit, offset := pageParams(r)
	entries, err := h.resellers.Ledger(r.Context(), id, limit, offset)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.reseller.ledger", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
