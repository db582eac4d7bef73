package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// CookieOptions configures the session cookie written on sign-in.
type CookieOptions struct {
	Name   string
	Secure bool
}

// AuthHandler serves sign-in, registration and account security endpoints.
type AuthHandler struct {
	auth      service.AuthService
	twoFactor service.TwoFactorService
	cookie    CookieOptions
	i18n      *i18n.Manager
	logger    *slog.Logger
}

func NewAuthHandler(auth service.AuthService, twoFactor service.TwoFactorService, cookie CookieOptions, i18nMgr *i18n.Manager, logger *slog.Logger) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "veo3_session"
	}
	return &AuthHandler{auth: auth, twoFactor: twoFactor, cookie: cookie, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.login", err)
		return
	}
	input.RequestMeta = requestMeta(r)
	result, err := h.auth.Login(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.login", err)
		return
	}
	h.setSession(w, result)
	respondJSON(w, http.StatusOK, result)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.register", err)
		return
	}
	input.RequestMeta = requestMeta(r)
	result, err := h.auth.Register(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.register", err)
		return
	}
	h.setSession(w, result)
	respondJSON(w, http.StatusCreated, result)
}

type verifyTwoFactorRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.verify", err)
		return
	}
	result, err := h.auth.VerifyTwoFactor(r.Context(), req.ChallengeToken, req.Code, requestMeta(r))
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.verify", err)
		return
	}
	h.setSession(w, result)
	respondJSON(w, http.StatusOK, result)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context(), principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.me", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	session := &service.Session{
		UserID:    p.UserID,
		Username:  p.Username,
		IsAdmin:   p.IsAdmin,
		SessionID: p.SessionID,
		ExpiresAt: p.ExpiresAt,
	}
	if err := h.auth.Logout(r.Context(), session, requestMeta(r)); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.logout", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	RespondSuccessI18n(r.Context(), w, "success.logged_out", h.i18n, nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.password", err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), principal(r).UserID, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.password", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, nil)
}

func (h *AuthHandler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.twoFactor.Setup(r.Context(), principal(r).UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.setup", err)
		return
	}
	respondJSON(w, http.StatusOK, enrollment)
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

func (h *AuthHandler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.enable", err)
		return
	}
	if err := h.twoFactor.Enable(r.Context(), principal(r).UserID, req.Code, requestMeta(r)); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.enable", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, map[string]bool{"two_factor_enabled": true})
}

func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.disable", err)
		return
	}
	if err := h.twoFactor.Disable(r.Context(), principal(r).UserID, req.Code, requestMeta(r)); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "auth.2fa.disable", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, map[string]bool{"two_factor_enabled": false})
}

// setSession writes the cookie only for completed sign-ins, not 2FA challenges.
func (h *AuthHandler) setSession(w http.ResponseWriter, result *service.LoginResult) {
	if result == nil || result.Token == "" {
		return
	}
	cookie := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    result.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if !result.ExpiresAt.IsZero() {
		cookie.Expires = result.ExpiresAt
		cookie.MaxAge = int(time.Until(result.ExpiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
}
