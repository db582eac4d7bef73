package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPOptions configure SMTPService.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPService sends email through an SMTP relay with gomail.
type SMTPService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(opts SMTPOptions) (*SMTPService, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, errors.New("notifier: smtp host is required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	from := opts.From
	if from == "" {
		from = opts.Username
	}
	return &SMTPService{
		dialer: gomail.NewDialer(opts.Host, opts.Port, opts.Username, opts.Password),
		from:   from,
	}, nil
}

// Message builds the gomail message for req.
func (s *SMTPService) Message(req EmailRequest) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", req.To)
	m.SetHeader("Subject", req.Subject)
	contentType := "text/plain"
	if req.HTML {
		contentType = "text/html"
	}
	m.SetBody(contentType, req.Body)
	return m
}

func (s *SMTPService) SendEmail(ctx context.Context, req EmailRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.Message(req)); err != nil {
		return fmt.Errorf("notifier: smtp send: %w", err)
	}
	return nil
}
