package security

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/veo3pk/studio/internal/repository"
)

// Audit event kinds.
const (
	EventLoginSuccess      = "auth.login.success"
	EventLoginFailure      = "auth.login.failure"
	EventLogout            = "auth.logout"
	EventTwoFactorEnabled  = "auth.2fa.enabled"
	EventTwoFactorDisabled = "auth.2fa.disabled"
	EventTwoFactorFailure  = "auth.2fa.failure"
	EventPasswordChanged   = "auth.password.changed"
	EventAdminUserUpdate   = "admin.user.update"
	EventWithdrawalDecided = "admin.withdrawal.decided"
	EventResellerTopUp     = "admin.reseller.topup"
)

// Event is one security-relevant action.
type Event struct {
	Kind      string
	ActorID   string
	IP        string
	UserAgent string
	Metadata  map[string]any
	Occurred  time.Time
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// LoggerRecorder writes audit events to slog.
type LoggerRecorder struct {
	logger *slog.Logger
}

func NewLoggerRecorder(logger *slog.Logger) *LoggerRecorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LoggerRecorder{logger: logger.With("component", "audit")}
}

func (r *LoggerRecorder) Record(ctx context.Context, event Event) {
	if r == nil || r.logger == nil {
		return
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	r.logger.InfoContext(ctx, "audit event",
		"kind", event.Kind,
		"actor_id", event.ActorID,
		"ip", event.IP,
		"ua", event.UserAgent,
		"metadata", event.Metadata,
		"occurred", event.Occurred.Format(time.RFC3339Nano),
	)
}

// StoreRecorder persists audit events and mirrors them to the log.
type StoreRecorder struct {
	repo repository.AuditRepository
	log  *LoggerRecorder
}

func NewStoreRecorder(repo repository.AuditRepository, logger *slog.Logger) *StoreRecorder {
	return &StoreRecorder{repo: repo, log: NewLoggerRecorder(logger)}
}

func (r *StoreRecorder) Record(ctx context.Context, event Event) {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	r.log.Record(ctx, event)
	if r.repo == nil {
		return
	}
	meta := "{}"
	if len(event.Metadata) > 0 {
		if raw, err := json.Marshal(event.Metadata); err == nil {
			meta = string(raw)
		}
	}
	err := r.repo.Create(ctx, &repository.AuditLog{
		Kind:      event.Kind,
		ActorID:   event.ActorID,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Metadata:  meta,
		CreatedAt: event.Occurred.Unix(),
	})
	if err != nil {
		r.log.logger.WarnContext(ctx, "persist audit event failed", "kind", event.Kind, "error", err)
	}
}
