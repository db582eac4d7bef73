package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veo3pk/studio/internal/async"
	"github.com/veo3pk/studio/internal/auth/token"
	"github.com/veo3pk/studio/internal/cache"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/notifier"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/storage"
	"github.com/veo3pk/studio/internal/support/hash"
)

// Infrastructure bundles the shared helpers services are built from.
type Infrastructure struct {
	Cache       cache.Store
	Token       *token.Manager
	Hasher      hash.Hasher
	TOTP        *security.TOTP
	Mailer      notifier.Service
	EmailQueue  *async.EmailQueue
	Notifier    notifier.Service
	RateLimiter *security.RateLimiter
	Audit       security.Recorder
	Events      events.Publisher
	Storage     storage.Storage
}

// Close releases connections held by the infrastructure.
func (i *Infrastructure) Close() error {
	if i == nil || i.Events == nil {
		return nil
	}
	return i.Events.Close()
}

// BuildInfrastructure wires cache, tokens, hashing, mail, events and storage from cfg.
func BuildInfrastructure(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Infrastructure, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Auth.SigningKey == "" || cfg.Auth.SigningKey == placeholderSigningKey {
		return nil, errors.New("auth.signing_key must be changed from default value")
	}

	cacheStore, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	tokenManager, err := token.NewManager(token.Options{
		SigningKey: []byte(cfg.Auth.SigningKey),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TTL:        cfg.Auth.TokenTTL,
		Leeway:     cfg.Auth.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	bcrypt, err := hash.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt hasher: %w", err)
	}

	rateLimiter, err := security.NewRateLimiter(cacheStore.Namespace("ratelimit"))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var mailer notifier.Service = notifier.NewLoggerService(logger)
	if cfg.Mail.Enabled {
		smtp, err := notifier.NewSMTPService(notifier.SMTPOptions{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp notifier: %w", err)
		}
		mailer = smtp
	}
	queue := async.NewEmailQueue(cfg.Mail.QueueCapacity)

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if strings.TrimSpace(cfg.Events.AMQPURL) != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return nil, fmt.Errorf("event publisher: %w", err)
		}
		publisher = rabbit
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}

	return &Infrastructure{
		Cache:       cacheStore,
		Token:       tokenManager,
		Hasher:      hash.NewLegacyAwareHasher(bcrypt),
		TOTP:        security.NewTOTP(cfg.Auth.TOTPIssuer),
		Mailer:      mailer,
		EmailQueue:  queue,
		Notifier:    queue,
		RateLimiter: rateLimiter,
		Audit:       security.NewLoggerRecorder(logger),
		Events:      publisher,
		Storage:     store,
	}, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return cache.NewStore(cache.Options{Prefix: cfg.Prefix, DefaultTTL: ttl, CleanupInterval: time.Minute}), nil
	case "redis":
		store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPass,
			DB:         cfg.RedisDB,
			Prefix:     cfg.Prefix,
			DefaultTTL: ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
}
