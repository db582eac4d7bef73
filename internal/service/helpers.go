package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/validate"
)

// Clock returns the current time; services take one so tests can pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// mapRepoErr translates repository sentinels into service sentinels.
func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict
	case errors.Is(err, repository.ErrStateChanged):
		return ErrStateChanged
	case errors.Is(err, repository.ErrInsufficientFunds):
		return ErrInsufficientBalance
	}
	return err
}

// validationError wraps field errors so handlers can match ErrValidation.
func validationError(v *validate.Validator, input any) error {
	if v == nil {
		return nil
	}
	if err := v.Struct(input); err != nil {
		return &ValidationError{Fields: validate.Fields(err), err: err}
	}
	return nil
}

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
	err    error
}

func (e *ValidationError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ErrValidation.Error()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalidField(field, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}, err: fmt.Errorf("%s: %s", field, message)}
}

func parseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func parseInt(raw string, def int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func ptr[T any](v T) *T { return &v }

func clampPage(limit, offset, def, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
