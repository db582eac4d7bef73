package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/api/requestctx"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
)

func TestStatusForWrappedErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		key    string
	}{
		{fmt.Errorf("start video: %w", service.ErrQuotaExceeded), http.StatusTooManyRequests, "error.quota_exceeded"},
		{fmt.Errorf("%w: video pool", service.ErrNoCapacity), http.StatusServiceUnavailable, "error.no_capacity"},
		{fmt.Errorf("%w: video", service.ErrMaintenance), http.StatusServiceUnavailable, "error.maintenance"},
		{service.ErrInsufficientCredits, http.StatusPaymentRequired, "error.insufficient_funds"},
		{service.ErrInsufficientBalance, http.StatusUnprocessableEntity, "error.insufficient_funds"},
		{&service.ValidationError{Fields: map[string]string{"prompt": "required"}}, http.StatusBadRequest, "error.validation"},
		{context.Canceled, http.StatusRequestTimeout, "error.internal"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "error.internal"},
	}
	for _, tc := range cases {
		status, key := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.key, key, tc.err.Error())
	}
}

func TestRespondServiceErrorTranslatesAndExposesFields(t *testing.T) {
	mgr, err := i18n.NewManager()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/generate-image", nil)
	req = req.WithContext(requestctx.WithLanguage(req.Context(), "ur-PK"))
	rec := httptest.NewRecorder()
	respondServiceError(rec, req, nil, mgr, "image.generate", &service.ValidationError{Fields: map[string]string{"prompt": "required"}})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error.validation", body["code"])
	assert.Equal(t, mgr.Translate("ur-PK", "error.validation"), body["error"])
	assert.Equal(t, map[string]any{"prompt": "required"}, body["fields"])
}
