package handler

import (
	"log/slog"
	"net/http"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// VoiceHandler serves speech synthesis, community voices and the curated list.
type VoiceHandler struct {
	voices service.VoiceService
	i18n   *i18n.Manager
	logger *slog.Logger
}

func NewVoiceHandler(voices service.VoiceService, i18nMgr *i18n.Manager, logger *slog.Logger) *VoiceHandler {
	return &VoiceHandler{voices: voices, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *VoiceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var input service.VoiceInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.generate", err)
		return
	}
	result, err := h.voices.Generate(r.Context(), principal(r).UserID, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.generate", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListCommunity accepts ?sort=popular|recent.
func (h *VoiceHandler) ListCommunity(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	voices, err := h.voices.ListCommunity(r.Context(), r.URL.Query().Get("sort"), limit, offset)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.community.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (h *VoiceHandler) CreateCommunity(w http.ResponseWriter, r *http.Request) {
	var input service.CommunityVoiceInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.community.create", err)
		return
	}
	voice, err := h.voices.CreateCommunity(r.Context(), principal(r).UserID, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.community.create", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"voice": voice})
}

func (h *VoiceHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.community.like", err)
		return
	}
	voice, err := h.voices.Like(r.Context(), principal(r).UserID, id)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.community.like", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voice": voice})
}

func (h *VoiceHandler) DeleteCommunity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		p := principal(r)
		err = h.voices.DeleteCommunity(r.Context(), p.UserID, p.IsAdmin, id)
	}
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.community.delete", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.deleted", h.i18n, nil)
}

func (h *VoiceHandler) ListTop(w http.ResponseWriter, r *http.Request) {
	voices, err := h.voices.ListTop(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.top.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

// SaveTop creates when no {id} is routed and updates otherwise.
func (h *VoiceHandler) SaveTop(w http.ResponseWriter, r *http.Request) {
	var id int64
	if r.Method == http.MethodPut {
		parsed, err := pathID(r, "id")
		if err != nil {
			respondServiceError(w, r, h.logger, h.i18n, "voice.top.save", err)
			return
		}
		id = parsed
	}
	var input service.TopVoiceInput
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.top.save", err)
		return
	}
	voice, err := h.voices.SaveTop(r.Context(), id, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.top.save", err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]any{"voice": voice})
}

func (h *VoiceHandler) DeleteTop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = h.voices.DeleteTop(r.Context(), id)
	}
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "voice.top.delete", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.deleted", h.i18n, nil)
}
