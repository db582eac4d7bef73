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

// AdminTokenHandler manages upstream credentials and pool rotation settings.
type AdminTokenHandler struct {
	tokens service.TokenPoolService
	i18n   *i18n.Manager
	logger *slog.Logger
}

func NewAdminTokenHandler(tokens service.TokenPoolService, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminTokenHandler {
	return &AdminTokenHandler{tokens: tokens, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

// tokenView never exposes the credential, only its last four characters.
type tokenView struct {
	*repository.APIToken
	CredentialHint string `json:"credential_hint"`
}

func newTokenView(t *repository.APIToken) tokenView {
	hint := ""
	if n := len(t.Credential); n > 0 {
		if n > 4 {
			hint = "…" + t.Credential[n-4:]
		} else {
			hint = "…"
		}
	}
	return tokenView{APIToken: t, CredentialHint: hint}
}

func (h *AdminTokenHandler) List(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.ListTokens(r.Context(), r.URL.Query().Get("pool"))
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.list", err)
		return
	}
	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, newTokenView(t))
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": views})
}

func (h *AdminTokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.get", err)
		return
	}
	tok, err := h.tokens.Token(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.get", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"token": newTokenView(tok)})
}

func (h *AdminTokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.TokenInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.create", err)
		return
	}
	tok, err := h.tokens.CreateToken(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.create", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"token": newTokenView(tok)})
}

func (h *AdminTokenHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.update", err)
		return
	}
	var input service.TokenInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.update", err)
		return
	}
	tok, err := h.tokens.UpdateToken(r.Context(), id, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.update", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, newTokenView(tok))
}

func (h *AdminTokenHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.tokens.DeleteToken(r.Context(), id)
	}
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.delete", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.deleted", h.i18n, nil)
}

// Reset clears error counters and reactivates the credential.
func (h *AdminTokenHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.tokens.ResetToken(r.Context(), id)
	}
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.token.reset", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, nil)
}

func (h *AdminTokenHandler) Pools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.tokens.ListPools(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.pool.list", err)
		return
	}
	stats, err := h.tokens.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.pool.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pools": pools, "stats": stats})
}

func (h *AdminTokenHandler) UpdatePool(w http.ResponseWriter, r *http.Request) {
	var input service.UpdatePoolInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.pool.update", err)
		return
	}
	input.Pool = chi.URLParam(r, "pool")
	pool, err := h.tokens.UpdatePool(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.pool.update", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, pool)
}
