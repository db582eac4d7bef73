// Package upstream talks to the external video, image and voice generation APIs.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Category is the user-facing failure class of an upstream call.
type Category string

const (
	CategoryPolicy    Category = "policy"
	CategoryQuota     Category = "quota"
	CategoryTimeout   Category = "timeout"
	CategoryAuth      Category = "auth"
	CategoryNetwork   Category = "network"
	CategoryServer    Category = "server"
	CategoryGeneric   Category = "generic"
	CategoryCapacity  Category = "capacity"
	CategoryCancelled Category = "cancelled"
)

// RetryableCategories are re-armed by the background retry job.
var RetryableCategories = []string{
	string(CategoryTimeout),
	string(CategoryNetwork),
	string(CategoryServer),
	string(CategoryQuota),
}

// Retryable reports whether a failed item may be retried later.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryServer, CategoryQuota:
		return true
	}
	return false
}

// Transient reports whether the same call may be repeated immediately with backoff.
func (c Category) Transient() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryServer:
		return true
	}
	return false
}

// RotatesToken reports whether the failure is attributable to the credential.
func (c Category) RotatesToken() bool {
	return c == CategoryAuth || c == CategoryQuota
}

// MessageKey is the i18n key of the user-facing message.
func (c Category) MessageKey() string {
	return "generation.error." + string(c)
}

// Error is a classified upstream failure.
type Error struct {
	Category Category
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("upstream ")
	b.WriteString(string(e.Category))
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with a message.
func NewError(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// CategoryOf extracts the category of err, classifying unknown errors.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Category
	}
	return Classify(0, nil, err).Category
}

var (
	policyMarkers = []string{"PUBLIC_ERROR_UNSAFE", "UNSAFE_GENERATION", "SAFETY", "content policy", "policy violation",
		"blocked", "INVALID_ARGUMENT", "prohibited", "minor", "celebrity"}
	quotaMarkers   = []string{"RESOURCE_EXHAUSTED", "quota", "rate limit", "too many requests", "credits"}
	authMarkers    = []string{"UNAUTHENTICATED", "PERMISSION_DENIED", "invalid authentication", "token expired", "expired token", "invalid api key", "unauthorized"}
	timeoutMarkers = []string{"DEADLINE_EXCEEDED", "timed out", "timeout"}
	serverMarkers  = []string{"INTERNAL", "UNAVAILABLE", "backend error"}
)

// Classify maps a transport error or an HTTP status and body onto a Category.
func Classify(status int, body []byte, err error) *Error {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return &Error{Category: CategoryCancelled, Err: err}
		case errors.Is(err, context.DeadlineExceeded):
			return &Error{Category: CategoryTimeout, Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &Error{Category: CategoryTimeout, Err: err}
		}
		return &Error{Category: CategoryNetwork, Err: err}
	}

	message := errorMessage(body)
	e := &Error{Status: status, Message: message}
	text := message + " " + gjson.GetBytes(body, "error.status").String()

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Category = CategoryAuth
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		e.Category = CategoryQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Category = CategoryTimeout
	case containsAny(text, policyMarkers):
		e.Category = CategoryPolicy
	case containsAny(text, quotaMarkers):
		e.Category = CategoryQuota
	case containsAny(text, authMarkers):
		e.Category = CategoryAuth
	case containsAny(text, timeoutMarkers):
		e.Category = CategoryTimeout
	case status >= 500 || containsAny(text, serverMarkers):
		e.Category = CategoryServer
	default:
		e.Category = CategoryGeneric
	}
	return e
}

func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	if !gjson.ValidBytes(body) {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return msg
	}
	return ""
}

func containsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
