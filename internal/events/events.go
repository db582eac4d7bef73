package events

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Event types published by the studio.
const (
	TypeGenerationCompleted = "generation.completed"
	TypeGenerationFailed    = "generation.failed"
	TypePlanActivated       = "plan.activated"
	TypeReferralCredited    = "affiliate.referral_credited"
	TypeWithdrawalDecided   = "affiliate.withdrawal_decided"
	TypeTokenDeactivated    = "tokenpool.token_deactivated"
)

// Event is a domain event; Payload values must be msgpack-encodable.
type Event struct {
	Type       string         `msgpack:"type" json:"type"`
	OccurredAt int64          `msgpack:"occurred_at" json:"occurred_at"`
	UserID     int64          `msgpack:"user_id,omitempty" json:"user_id,omitempty"`
	Payload    map[string]any `msgpack:"payload,omitempty" json:"payload,omitempty"`
}

// Publisher emits domain events. Publishing is best effort for callers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}
	p.logger.DebugContext(ctx, "domain event", "type", event.Type, "user_id", event.UserID, "payload", event.Payload)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Emit publishes and logs failures instead of returning them.
func Emit(ctx context.Context, publisher Publisher, logger *slog.Logger, event Event) {
	if publisher == nil {
		return
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}
	if err := publisher.Publish(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "publish event failed", "type", event.Type, "error", err)
	}
}
