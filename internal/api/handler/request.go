package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veo3pk/studio/internal/api/middleware"
	"github.com/veo3pk/studio/internal/api/requestctx"
	"github.com/veo3pk/studio/internal/service"
)

// decodeJSON reads one JSON document. Malformed bodies surface as ErrValidation.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", service.ErrValidation)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", service.ErrValidation)
		}
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	return nil
}

func clampQueryInt(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if value < 0 {
		return 0
	}
	if value > 200 {
		return 200
	}
	return value
}

func clampNonNegativeQueryInt(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return def
	}
	return value
}

func parseInt64(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

// pathID parses a positive numeric URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := parseInt64(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", service.ErrValidation, name)
	}
	return id, nil
}

func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	return clampQueryInt(q.Get("limit"), 20), clampNonNegativeQueryInt(q.Get("offset"), 0)
}

func principal(r *http.Request) requestctx.Principal {
	p, _ := requestctx.PrincipalFromContext(r.Context())
	return p
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}
