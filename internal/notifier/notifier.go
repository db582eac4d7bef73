package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/veo3pk/studio/internal/support/logging"
)

// EmailRequest is one outbound email.
type EmailRequest struct {
	To       string
	Subject  string
	Template string
	Body     string
	HTML     bool
}

// Validate checks the recipient address.
func (r EmailRequest) Validate() error {
	to := strings.TrimSpace(r.To)
	if to == "" {
		return ErrNoRecipient
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	return nil
}

// Service delivers user notifications.
type Service interface {
	SendEmail(ctx context.Context, req EmailRequest) error
}

var (
	// ErrNoTransport means no real delivery channel is configured.
	ErrNoTransport      = errors.New("notifier: no mail transport configured")
	ErrNoRecipient      = errors.New("notifier: recipient is required")
	ErrInvalidRecipient = errors.New("notifier: invalid recipient")
)

// Undeliverable reports errors that retrying the same request cannot fix.
func Undeliverable(err error) bool {
	return errors.Is(err, ErrNoTransport) ||
		errors.Is(err, ErrNoRecipient) ||
		errors.Is(err, ErrInvalidRecipient)
}

// LoggerService logs notifications instead of sending them.
type LoggerService struct {
	logger *slog.Logger
}

func NewLoggerService(logger *slog.Logger) *LoggerService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LoggerService{logger: logger}
}

func (s *LoggerService) SendEmail(ctx context.Context, req EmailRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email not sent", "to", req.To, "subject", req.Subject, "bytes", len(req.Body))
	return ErrNoTransport
}
