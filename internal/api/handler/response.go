package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/api/requestctx"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response JSON", "error", err)
	}
}

// RespondErrorI18n writes {"error": <translated>, "code": key}.
func RespondErrorI18n(ctx context.Context, w http.ResponseWriter, status int, key string, i18nMgr *i18n.Manager, args ...any) {
	respondJSON(w, status, map[string]any{
		"error": translate(ctx, i18nMgr, key, args...),
		"code":  key,
	})
}

// RespondSuccessI18n writes {"message": <translated>, "data": data}.
func RespondSuccessI18n(ctx context.Context, w http.ResponseWriter, key string, i18nMgr *i18n.Manager, data any) {
	resp := map[string]any{"message": translate(ctx, i18nMgr, key)}
	if data != nil {
		resp["data"] = data
	}
	respondJSON(w, http.StatusOK, resp)
}

func translate(ctx context.Context, i18nMgr *i18n.Manager, key string, args ...any) string {
	if i18nMgr == nil {
		return key
	}
	return i18nMgr.Translate(requestctx.GetLanguage(ctx), key, args...)
}

type errorMapping struct {
	target error
	status int
	key    string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{service.ErrValidation, http.StatusBadRequest, "error.validation"},
	{service.ErrInvalidSignature, http.StatusBadRequest, "error.invalid_signature"},
	{service.ErrUnauthorized, http.StatusUnauthorized, "error.unauthorized"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "error.invalid_credentials"},
	{service.ErrTwoFactorInvalid, http.StatusUnauthorized, "error.two_factor_invalid"},
	{service.ErrAccountDisabled, http.StatusForbidden, "error.account_disabled"},
	{service.ErrForbidden, http.StatusForbidden, "error.forbidden"},
	{service.ErrRegistrationClosed, http.StatusForbidden, "error.registration_closed"},
	{service.ErrFeatureNotInPlan, http.StatusForbidden, "error.feature_not_in_plan"},
	{service.ErrQuotaExceeded, http.StatusTooManyRequests, "error.quota_exceeded"},
	{service.ErrRateLimited, http.StatusTooManyRequests, "error.rate_limited"},
	{service.ErrNotFound, http.StatusNotFound, "error.not_found"},
	{service.ErrConflict, http.StatusConflict, "error.conflict"},
	{service.ErrAlreadyLiked, http.StatusConflict, "error.already_liked"},
	{service.ErrWithdrawalPending, http.StatusConflict, "error.withdrawal_pending"},
	{service.ErrStateChanged, http.StatusConflict, "error.state_changed"},
	{service.ErrNotRetryable, http.StatusConflict, "error.not_retryable"},
	{service.ErrTwoFactorNotEnrolled, http.StatusConflict, "error.two_factor_not_enrolled"},
	{service.ErrWithdrawalMinimum, http.StatusUnprocessableEntity, "error.withdrawal_minimum"},
	{service.ErrInsufficientBalance, http.StatusUnprocessableEntity, "error.insufficient_funds"},
	{service.ErrInsufficientCredits, http.StatusPaymentRequired, "error.insufficient_funds"},
	{service.ErrMaintenance, http.StatusServiceUnavailable, "error.maintenance"},
	{service.ErrNoCapacity, http.StatusServiceUnavailable, "error.no_capacity"},
}

// statusFor maps a service error to its HTTP status and message key.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.key
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "error.internal"
	}
	return http.StatusInternalServerError, "error.internal"
}

// respondServiceError translates err and logs only unexpected failures.
func respondServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, i18nMgr *i18n.Manager, action string, err error) {
	status, key := statusFor(err)
	body := map[string]any{
		"error": translate(r.Context(), i18nMgr, key),
		"code":  key,
	}
	var verr *service.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		body["fields"] = verr.Fields
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", "action", action, "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, body)
}
