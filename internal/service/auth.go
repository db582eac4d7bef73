package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veo3pk/studio/internal/auth/token"
	"github.com/veo3pk/studio/internal/cache"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/support/hash"
	"github.com/veo3pk/studio/internal/support/logging"
)

const uidAttempts = 5

// RequestMeta carries client details for audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginInput represents the payload required for user login.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	RequestMeta
}

// RegisterInput creates a self-service account.
type RegisterInput struct {
	Username     string `json:"username" validate:"required,username"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	Email        string `json:"email" validate:"omitempty,email"`
	ReferralCode string `json:"referral_code" validate:"max=32"`
	RequestMeta
}

// NewAccount is the internal account creation request.
type NewAccount struct {
	Username     string
	Password     string
	Email        string
	ReferralCode string
	IsAdmin      bool
}

// LoginResult returns either a session or a pending 2FA challenge.
type LoginResult struct {
	Token             string    `json:"token,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
	User              *UserView `json:"user,omitempty"`
	TwoFactorRequired bool      `json:"two_factor_required"`
	ChallengeToken    string    `json:"challenge_token,omitempty"`
}

// Session is an authenticated request principal.
type Session struct {
	UserID    int64
	Username  string
	IsAdmin   bool
	SessionID string
	ExpiresAt time.Time
}

// AuthService handles login, registration and session lifecycle.
type AuthService interface {
	Login(ctx context.Context, input LoginInput) (*LoginResult, error)
	VerifyTwoFactor(ctx context.Context, challenge, code string, meta RequestMeta) (*LoginResult, error)
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	Logout(ctx context.Context, session *Session, meta RequestMeta) error
	Register(ctx context.Context, input RegisterInput) (*LoginResult, error)
	CreateAccount(ctx context.Context, in NewAccount) (*repository.User, error)
	RemoveAccount(ctx context.Context, userID int64) error
	ChangePassword(ctx context.Context, userID int64, current, next string, meta RequestMeta) error
	Me(ctx context.Context, userID int64) (*UserView, error)
}

type authService struct {
	users        repository.UserRepository
	settings     SettingsService
	hasher       hash.Hasher
	tokens       *token.Manager
	totp         *security.TOTP
	rate         *security.RateLimiter
	audit        security.Recorder
	revoked      cache.Store
	challengeTTL time.Duration
	logger       *slog.Logger
	now          Clock
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Users        repository.UserRepository
	Settings     SettingsService
	Hasher       hash.Hasher
	Tokens       *token.Manager
	TOTP         *security.TOTP
	RateLimiter  *security.RateLimiter
	Audit        security.Recorder
	Cache        cache.Store
	ChallengeTTL time.Duration
	Logger       *slog.Logger
}

func NewAuthService(deps AuthDeps) AuthService {
	var revoked cache.Store
	if deps.Cache != nil {
		revoked = deps.Cache.Namespace("session").Namespace("revoked")
	}
	ttl := deps.ChallengeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &authService{
		users:        deps.Users,
		settings:     deps.Settings,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		totp:         deps.TOTP,
		rate:         deps.RateLimiter,
		audit:        deps.Audit,
		revoked:      revoked,
		challengeTTL: ttl,
		logger:       logging.Component(deps.Logger, "auth"),
		now:          systemClock,
	}
}

func (s *authService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	username := normalizeUsername(input.Username)
	if username == "" || input.Password == "" {
		return nil, invalidField("username", "username and password are required")
	}
	res, err := s.rate.Allow(ctx, security.LoginRule, username)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		s.recordAudit(ctx, security.EventLoginFailure, username, input.RequestMeta, map[string]any{"reason": "rate_limited"})
		return nil, ErrRateLimited
	}

	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		s.recordAudit(ctx, security.EventLoginFailure, username, input.RequestMeta, map[string]any{"reason": "not_found"})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.hasher.Compare(user.Password, input.Password); err != nil {
		if errors.Is(err, hash.ErrPasswordMismatch) {
			s.recordAudit(ctx, security.EventLoginFailure, username, input.RequestMeta, map[string]any{"reason": "password"})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status != repository.UserStatusActive {
		s.recordAudit(ctx, security.EventLoginFailure, username, input.RequestMeta, map[string]any{"reason": "disabled"})
		return nil, ErrAccountDisabled
	}
	if s.hasher.NeedsRehash(user.Password) {
		if hashed, err := s.hasher.Hash(input.Password); err == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
				s.logger.WarnContext(ctx, "rehash password failed", "user_id", user.ID, "error", err)
			}
		}
	}
	s.rate.Reset(ctx, security.LoginRule, username)

	if user.TwoFactorEnabled {
		challenge, claims, err := s.tokens.Issue(token.IssueInput{
			Subject:   strconv.FormatInt(user.ID, 10),
			TokenType: token.TypeChallenge,
			TTL:       s.challengeTTL,
		})
		if err != nil {
			return nil, err
		}
		return &LoginResult{TwoFactorRequired: true, ChallengeToken: challenge, ExpiresAt: claims.ExpiresAt.Time}, nil
	}
	return s.issueSession(ctx, user, input.RequestMeta)
}

func (s *authService) VerifyTwoFactor(ctx context.Context, challenge, code string, meta RequestMeta) (*LoginResult, error) {
	claims, err := s.tokens.ParseType(strings.TrimSpace(challenge), token.TypeChallenge)
	if err != nil {
		return nil, ErrTwoFactorInvalid
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrTwoFactorInvalid
	}
	res, err := s.rate.Allow(ctx, security.ChallengeRule, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		return nil, ErrRateLimited
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrTwoFactorInvalid
	}
	if user.Status != repository.UserStatusActive {
		return nil, ErrAccountDisabled
	}
	if !user.TwoFactorEnabled || !s.totp.Validate(code, user.TwoFactorSecret) {
		s.recordAudit(ctx, security.EventTwoFactorFailure, user.Username, meta, map[string]any{"user_id": user.ID})
		return nil, ErrTwoFactorInvalid
	}
	return s.issueSession(ctx, user, meta)
}

func (s *authService) issueSession(ctx context.Context, user *repository.User, meta RequestMeta) (*LoginResult, error) {
	signed, claims, err := s.tokens.Issue(token.IssueInput{
		Subject:   strconv.FormatInt(user.ID, 10),
		TokenType: token.TypeSession,
		SessionID: uuid.NewString(),
		IsAdmin:   user.IsAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	now := s.now().Unix()
	if err := s.users.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "touch login failed", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = now
	s.recordAudit(ctx, security.EventLoginSuccess, user.Username, meta, map[string]any{"user_id": user.ID})
	return &LoginResult{Token: signed, ExpiresAt: claims.ExpiresAt.Time, User: NewUserView(user)}, nil
}

func (s *authService) Authenticate(ctx context.Context, rawToken string) (*Session, error) {
	raw := strings.TrimSpace(rawToken)
	if raw == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.ParseType(raw, token.TypeSession)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if s.revoked != nil && claims.SessionID != "" {
		if _, revoked := s.revoked.GetString(ctx, claims.SessionID); revoked {
			return nil, ErrUnauthorized
		}
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if user.Status != repository.UserStatusActive {
		return nil, ErrAccountDisabled
	}
	session := &Session{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin, SessionID: claims.SessionID}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *authService) Logout(ctx context.Context, session *Session, meta RequestMeta) error {
	if session == nil || session.SessionID == "" {
		return nil
	}
	if s.revoked != nil {
		ttl := time.Until(session.ExpiresAt)
		if ttl <= 0 {
			ttl = s.tokens.TTL()
		}
		if err := s.revoked.SetString(ctx, session.SessionID, "1", ttl); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
	}
	s.recordAudit(ctx, security.EventLogout, session.Username, meta, map[string]any{"user_id": session.UserID})
	return nil
}

func (s *authService) Register(ctx context.Context, input RegisterInput) (*LoginResult, error) {
	if s.settings != nil {
		flags, err := s.settings.Maintenance(ctx)
		if err != nil {
			return nil, err
		}
		if flags.Registration {
			return nil, ErrRegistrationClosed
		}
	}
	if input.IP != "" {
		res, err := s.rate.Allow(ctx, security.RegisterRule, input.IP)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, ErrRateLimited
		}
	}
	user, err := s.CreateAccount(ctx, NewAccount{
		Username:     input.Username,
		Password:     input.Password,
		Email:        input.Email,
		ReferralCode: input.ReferralCode,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "referred", user.ReferredBy != "")
	return s.issueSession(ctx, user, input.RequestMeta)
}

// RemoveAccount deletes an account that never became usable, e.g. a failed provisioning.
func (s *authService) RemoveAccount(ctx context.Context, userID int64) error {
	return mapRepoErr(s.users.Delete(ctx, userID))
}

func (s *authService) CreateAccount(ctx context.Context, in NewAccount) (*repository.User, error) {
	username := normalizeUsername(in.Username)
	if !usernameValid(username) {
		return nil, invalidField("username", "must be 3-32 letters, digits, dots or underscores")
	}
	if len(in.Password) < 8 {
		return nil, invalidField("password", "must contain at least 8 characters")
	}
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username taken", ErrConflict)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	referredBy := ""
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		referrer, err := s.users.FindByUID(ctx, code)
		switch {
		case err == nil:
			referredBy = referrer.UID
		case errors.Is(err, repository.ErrNotFound):
			s.logger.InfoContext(ctx, "unknown referral code ignored", "code", code)
		default:
			return nil, err
		}
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	for attempt := 0; ; attempt++ {
		user, err := s.users.Create(ctx, &repository.User{
			UID:        NewReferralCode(),
			Username:   username,
			Email:      strings.ToLower(strings.TrimSpace(in.Email)),
			Password:   hashed,
			IsAdmin:    in.IsAdmin,
			Status:     repository.UserStatusActive,
			PlanType:   repository.PlanFree,
			PlanStatus: repository.PlanStatusActive,
			ReferredBy: referredBy,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err == nil {
			return user, nil
		}
		// A conflict here is either the username racing us or a uid collision.
		if !errors.Is(err, repository.ErrConflict) || attempt+1 >= uidAttempts {
			return nil, mapRepoErr(err)
		}
		if _, findErr := s.users.FindByUsername(ctx, username); findErr == nil {
			return nil, fmt.Errorf("%w: username taken", ErrConflict)
		}
	}
}

func (s *authService) ChangePassword(ctx context.Context, userID int64, current, next string, meta RequestMeta) error {
	if len(next) < 8 {
		return invalidField("new_password", "must contain at least 8 characters")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return mapRepoErr(err)
	}
	if err := s.hasher.Compare(user.Password, current); err != nil {
		return ErrInvalidCredentials
	}
	hashed, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hashed); err != nil {
		return mapRepoErr(err)
	}
	s.recordAudit(ctx, security.EventPasswordChanged, user.Username, meta, map[string]any{"user_id": userID})
	return nil
}

func (s *authService) Me(ctx context.Context, userID int64) (*UserView, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return NewUserView(user), nil
}

func (s *authService) recordAudit(ctx context.Context, kind, actor string, meta RequestMeta, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, security.Event{
		Kind:      kind,
		ActorID:   actor,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  metadata,
		Occurred:  s.now(),
	})
}

// NewReferralCode returns an 8 character uppercase code.
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func usernameValid(username string) bool {
	if len(username) < 3 || len(username) > 32 {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
