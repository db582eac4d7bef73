package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBytes = 64 << 10

// BillingHandler receives payment provider webhooks.
type BillingHandler struct {
	billing service.BillingService
	i18n    *i18n.Manager
	logger  *slog.Logger
}

func NewBillingHandler(billing service.BillingService, i18nMgr *i18n.Manager, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

// StripeWebhook verifies the raw body against the Stripe-Signature header.
// Events that are not acted upon still answer 200 so Stripe stops retrying.
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "billing.webhook", err)
		return
	}
	if len(payload) > maxWebhookBytes {
		respondServiceError(w, r, h.logger, h.i18n, "billing.webhook", errors.Join(service.ErrValidation, errors.New("payload too large")))
		return
	}
	result, err := h.billing.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "billing.webhook", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
