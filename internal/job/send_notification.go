package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veo3pk/studio/internal/notifier"
)

// EmailQueue is the buffer the sender drains.
type EmailQueue interface {
	DrainEmails() []notifier.EmailRequest
	RequeueEmails(reqs []notifier.EmailRequest)
}

// SendEmailJob delivers queued emails through the configured notifier.
type SendEmailJob struct {
	Queue    EmailQueue
	Notifier notifier.Service
	Logger   *slog.Logger
}

func NewSendEmailJob(queue EmailQueue, svc notifier.Service, logger *slog.Logger) *SendEmailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendEmailJob{Queue: queue, Notifier: svc, Logger: logger}
}

func (j *SendEmailJob) Name() string { return "notification.email" }

// Run stops at the first delivery failure and puts the rest back.
func (j *SendEmailJob) Run(ctx context.Context) error {
	if j == nil || j.Queue == nil || j.Notifier == nil {
		return errors.New("email notification job dependencies not configured")
	}
	emails := j.Queue.DrainEmails()
	if len(emails) == 0 {
		return nil
	}
	sent := 0
	for i, req := range emails {
		if err := j.Notifier.SendEmail(ctx, req); err != nil {
			if notifier.Undeliverable(err) {
				j.Logger.Warn("notification email dropped", "to", req.To, "reason", err)
				continue
			}
			j.Queue.RequeueEmails(emails[i:])
			return fmt.Errorf("send email to %s: %w", req.To, err)
		}
		sent++
	}
	j.Logger.Debug("email notifications sent", "count", sent)
	return nil
}
