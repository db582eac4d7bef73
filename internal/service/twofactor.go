package service

import (
	"context"
	"fmt"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
)

// TwoFactorService manages TOTP enrollment.
type TwoFactorService interface {
	// Setup stores a fresh, not yet enabled secret and returns the enrollment data.
	Setup(ctx context.Context, userID int64) (*security.TOTPEnrollment, error)
	Enable(ctx context.Context, userID int64, code string, meta RequestMeta) error
	Disable(ctx context.Context, userID int64, code string, meta RequestMeta) error
}

type twoFactorService struct {
	users repository.UserRepository
	totp  *security.TOTP
	audit security.Recorder
	now   Clock
}

func NewTwoFactorService(users repository.UserRepository, totp *security.TOTP, audit security.Recorder) TwoFactorService {
	return &twoFactorService{users: users, totp: totp, audit: audit, now: systemClock}
}

func (s *twoFactorService) Setup(ctx context.Context, userID int64) (*security.TOTPEnrollment, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if user.TwoFactorEnabled {
		return nil, fmt.Errorf("%w: two-factor already enabled", ErrConflict)
	}
	enrollment, err := s.totp.Enroll(user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetTwoFactor(ctx, userID, enrollment.Secret, false); err != nil {
		return nil, mapRepoErr(err)
	}
	return enrollment, nil
}

func (s *twoFactorService) Enable(ctx context.Context, userID int64, code string, meta RequestMeta) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return mapRepoErr(err)
	}
	if user.TwoFactorSecret == "" {
		return ErrTwoFactorNotEnrolled
	}
	if !s.totp.Validate(code, user.TwoFactorSecret) {
		s.record(ctx, security.EventTwoFactorFailure, user, meta)
		return ErrTwoFactorInvalid
	}
	if err := s.users.SetTwoFactor(ctx, userID, user.TwoFactorSecret, true); err != nil {
		return mapRepoErr(err)
	}
	s.record(ctx, security.EventTwoFactorEnabled, user, meta)
	return nil
}

func (s *twoFactorService) Disable(ctx context.Context, userID int64, code string, meta RequestMeta) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return mapRepoErr(err)
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnrolled
	}
	if !s.totp.Validate(code, user.TwoFactorSecret) {
		s.record(ctx, security.EventTwoFactorFailure, user, meta)
		return ErrTwoFactorInvalid
	}
	if err := s.users.SetTwoFactor(ctx, userID, "", false); err != nil {
		return mapRepoErr(err)
	}
	s.record(ctx, security.EventTwoFactorDisabled, user, meta)
	return nil
}

func (s *twoFactorService) record(ctx context.Context, kind string, user *repository.User, meta RequestMeta) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, security.Event{
		Kind:      kind,
		ActorID:   user.Username,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"user_id": user.ID},
		Occurred:  s.now(),
	})
}
