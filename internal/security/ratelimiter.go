package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veo3pk/studio/internal/cache"
)

// Rule is a named fixed-window budget. Counters are keyed by scope and subject.
type Rule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

var (
	// LoginRule is keyed by normalized username.
	LoginRule = Rule{Scope: "login", Limit: 10, Window: 15 * time.Minute}
	// ChallengeRule is keyed by user id while a 2FA challenge is pending.
	ChallengeRule = Rule{Scope: "2fa", Limit: 5, Window: 5 * time.Minute}
	// RegisterRule is keyed by client IP.
	RegisterRule = Rule{Scope: "register", Limit: 5, Window: time.Hour}
)

func (r Rule) key(subject string) string {
	return r.Scope + ":" + strings.ToLower(strings.TrimSpace(subject))
}

// RateResult describes one Allow decision.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts attempts against Rules in a cache namespace.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	store cache.Store
	now   func() time.Time
}

func NewRateLimiter(store cache.Store) (*RateLimiter, error) {
	if store == nil {
		return nil, errors.New("security: rate limiter requires a cache store")
	}
	return &RateLimiter{store: store.Namespace("rate"), now: time.Now}, nil
}

// Allow consumes one attempt of rule for subject.
func (l *RateLimiter) Allow(ctx context.Context, rule Rule, subject string) (RateResult, error) {
	if l == nil {
		return RateResult{Allowed: true, Remaining: rule.Limit}, nil
	}
	if rule.Limit <= 0 || rule.Scope == "" {
		return RateResult{}, fmt.Errorf("security: invalid rate rule %q", rule.Scope)
	}
	window := rule.Window
	if window <= 0 {
		window = time.Minute
	}

	key := rule.key(subject)
	// The first hit opens the window; later hits keep its remaining lifetime.
	if remain, ok := l.store.TTL(ctx, key); ok {
		window = remain
	}
	current, err := l.store.Increment(ctx, key, 1, window)
	if err != nil {
		return RateResult{}, fmt.Errorf("security: rate counter %s: %w", rule.Scope, err)
	}
	return RateResult{
		Allowed:   current <= int64(rule.Limit),
		Remaining: max(rule.Limit-int(current), 0),
		ResetAt:   l.now().UTC().Add(window),
	}, nil
}

// Reset clears the subject's counter for rule, e.g. after a successful login.
func (l *RateLimiter) Reset(ctx context.Context, rule Rule, subject string) {
	if l == nil {
		return
	}
	l.store.Delete(ctx, rule.key(subject))
}
