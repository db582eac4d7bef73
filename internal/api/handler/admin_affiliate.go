package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AdminWithdrawalHandler reviews affiliate payout requests.
type AdminWithdrawalHandler struct {
	affiliate service.AffiliateService
	i18n      *i18n.Manager
	logger    *slog.Logger
}

func NewAdminWithdrawalHandler(affiliate service.AffiliateService, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminWithdrawalHandler {
	return &AdminWithdrawalHandler{affiliate: affiliate, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AdminWithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	q := r.URL.Query()
	filter := repository.WithdrawalFilter{Status: q.Get("status"), Limit: limit, Offset: offset}
	if raw := q.Get("user_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			filter.UserID = &id
		}
	}
	items, err := h.affiliate.ListWithdrawals(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.withdrawal.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"withdrawals": items})
}

type withdrawalDecision struct {
	Remarks string `json:"remarks"`
}

func (h *AdminWithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "admin.withdrawal.approve", h.affiliate.ApproveWithdrawal)
}

// Reject refunds the held amount to the affiliate balance.
func (h *AdminWithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "admin.withdrawal.reject", h.affiliate.RejectWithdrawal)
}

func (h *AdminWithdrawalHandler) decide(w http.ResponseWriter, r *http.Request, action string,
	apply func(ctx context.Context, id, adminID int64, remarks string) (*repository.AffiliateWithdrawal, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	var req withdrawalDecision
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, r, h.logger, h.i18n, action, err)
			return
		}
	}
	wd, err := apply(r.Context(), id, principal(r).UserID, req.Remarks)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, action, err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, wd)
}
