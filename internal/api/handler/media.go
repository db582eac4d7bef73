package handler

import (
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// MediaHandler serves stored media under /media/{key}.
type MediaHandler struct {
	media  service.MediaService
	i18n   *i18n.Manager
	logger *slog.Logger
}

func NewMediaHandler(media service.MediaService, i18nMgr *i18n.Manager, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{media: media, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

// Serve only resolves storage keys; anything resembling a URL or a parent
// reference is a 404.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, ":") || strings.Contains(key, "..") || path.Clean(key) != key {
		RespondErrorI18n(r.Context(), w, http.StatusNotFound, "error.not_found", h.i18n)
		return
	}
	data, contentType, err := h.media.Load(r.Context(), key)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "media.serve", err)
		return
	}
	if byExt := mime.TypeByExtension(path.Ext(key)); byExt != "" {
		contentType = byExt
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}
