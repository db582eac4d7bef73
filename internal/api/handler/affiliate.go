package handler

import (
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AffiliateHandler serves the referrer dashboard and payout requests.
type AffiliateHandler struct {
	affiliate service.AffiliateService
	i18n      *i18n.Manager
	logger    *slog.Logger
}

func NewAffiliateHandler(affiliate service.AffiliateService, i18nMgr *i18n.Manager, logger *slog.Logger) *AffiliateHandler {
	return &AffiliateHandler{affiliate: affiliate, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AffiliateHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.affiliate.Summary(r.Context(), principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "affiliate.summary", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *AffiliateHandler) Earnings(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	earnings, err := h.affiliate.ListEarnings(r.Context(), principal(r).UserID, limit, offset)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "affiliate.earnings", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"earnings": earnings})
}

func (h *AffiliateHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	userID := principal(r).UserID
	items, err := h.affiliate.ListWithdrawals(r.Context(), repository.WithdrawalFilter{
		UserID: &userID,
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "affiliate.withdrawals", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"withdrawals": items})
}

func (h *AffiliateHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var input service.WithdrawalInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "affiliate.withdraw", err)
		return
	}
	wd, err := h.affiliate.RequestWithdrawal(r.Context(), principal(r).UserID, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "affiliate.withdraw", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"withdrawal": wd})
}
