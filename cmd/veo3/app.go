package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/veo3pk/studio/internal/api"
	"github.com/veo3pk/studio/internal/bootstrap"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/job"
	"github.com/veo3pk/studio/internal/metrics"
	"github.com/veo3pk/studio/internal/migrations"
	"github.com/veo3pk/studio/internal/repository/sqlite"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
	"github.com/veo3pk/studio/internal/support/validate"
	"github.com/veo3pk/studio/internal/upstream"
)

// app is the fully wired process shared by serve and the admin subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *sqlite.Store
	infra     *bootstrap.Infrastructure
	registry  *prometheus.Registry
	services  api.Services
	scheduler *job.Scheduler
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.Options{
		Level:     cfg.Log.SlogLevel(),
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
}

// openDB opens and migrates the configured database.
func openDB(cfg *config.Config, quiet bool) (*sql.DB, error) {
	db, err := bootstrap.OpenSQLite(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	migrate := migrations.Up
	if quiet {
		migrate = migrations.UpQuiet
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, startedAt time.Time) (*app, error) {
	db, err := openDB(cfg, logger == nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	a := &app{cfg: cfg, logger: logger, db: db}
	if err := a.wire(ctx, startedAt); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, startedAt time.Time) error {
	cfg, logger := a.cfg, a.logger

	key, source, err := bootstrap.ResolveSigningKey(ctx, a.db, cfg.Auth.SigningKey, time.Now)
	if err != nil {
		return err
	}
	cfg.Auth.SigningKey = key
	logger.Info("session signing key ready", "source", source)

	infra, err := bootstrap.BuildInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.infra = infra
	a.store = sqlite.NewStore(a.db)
	store := a.store

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	domain := metrics.NewDomain(a.registry, cfg.Metrics.Namespace)

	translator, err := i18n.NewManager(
		i18n.WithLogger(logger),
		i18n.WithDefaultLang("en-US"),
	)
	if err != nil {
		return err
	}
	if dir := cfg.UI.LocalesDir; dir != "" {
		if err := translator.LoadFromDir(dir); err != nil {
			return err
		}
	}

	validator := validate.New()
	observer := domain.UpstreamObserver()
	client := func(base, header string, extra map[string]string) *upstream.Client {
		return upstream.NewClient(upstream.Options{
			BaseURL:       base,
			Timeout:       cfg.Upstream.Timeout,
			RatePerSecond: cfg.Upstream.RatePerSecond,
			Burst:         cfg.Upstream.Burst,
			Retry: upstream.RetryConfig{
				MaxRetries:      cfg.Upstream.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Multiplier:      2,
			},
			Observer: observer,
			Header:   header,
			Extra:    extra,
		})
	}
	videos := upstream.NewVideoClient(client(cfg.Upstream.VideoBaseURL, "", nil), cfg.Upstream.ProjectID, cfg.Upstream.VideoModel)
	images := upstream.NewImageClient(client(cfg.Upstream.ImageBaseURL, "", nil), cfg.Upstream.ProjectID, cfg.Upstream.ImageModel)
	cartesia := upstream.NewCartesiaClient(client(cfg.Upstream.CartesiaBaseURL, "X-API-Key", map[string]string{"Cartesia-Version": "2024-11-13"}))
	zyphra := upstream.NewZyphraClient(client(cfg.Upstream.ZyphraBaseURL, "X-API-Key", nil))

	settings := service.NewSettingsService(store.Settings(), infra.Cache.Namespace("settings"), service.GenerationSettings{
		MaxRetryAttempts:  cfg.Generation.MaxRetryAttempts,
		RetryDelayMinutes: cfg.Generation.RetryDelayMinutes,
		AutoRetryEnabled:  true,
	})
	tokens := service.NewTokenPoolService(store.Tokens(), domain, infra.Events, logger)
	affiliate := service.NewAffiliateService(store.Users(), store.Affiliates(), settings, infra.Notifier, infra.Audit, infra.Events, logger)
	plans := service.NewPlanService(store, affiliate, cfg.Quota, domain, infra.Events, logger)
	media := service.NewMediaService(infra.Storage, store.History(), nil, logger)
	generation := service.NewGenerationService(service.GenerationDeps{
		Store:     store,
		Plans:     plans,
		Tokens:    tokens,
		Settings:  settings,
		Media:     media,
		Videos:    videos,
		Images:    images,
		Validator: validator,
		Config:    cfg.Generation,
		Metrics:   domain,
		Publisher: infra.Events,
		Logger:    logger,
	})
	batch := service.NewBatchService(service.BatchDeps{
		Users:      store.Users(),
		Plans:      plans,
		Tokens:     tokens,
		Settings:   settings,
		Media:      media,
		Generation: generation,
		Validator:  validator,
		Config:     cfg.Generation,
		Metrics:    domain,
		Logger:     logger,
	})
	auth := service.NewAuthService(service.AuthDeps{
		Users:        store.Users(),
		Settings:     settings,
		Hasher:       infra.Hasher,
		Tokens:       infra.Token,
		TOTP:         infra.TOTP,
		RateLimiter:  infra.RateLimiter,
		Audit:        infra.Audit,
		Cache:        infra.Cache,
		ChallengeTTL: cfg.Auth.ChallengeTTL,
		Logger:       logger,
	})
	voice := service.NewVoiceService(service.VoiceDeps{
		Store:     store,
		Plans:     plans,
		Tokens:    tokens,
		Settings:  settings,
		Media:     media,
		Cartesia:  cartesia,
		Zyphra:    zyphra,
		Validator: validator,
		Config:    cfg.Generation,
		Logger:    logger,
	})
	fetcher := service.DefaultHostStatFetcher()

	a.services = api.Services{
		Auth:       auth,
		TwoFactor:  service.NewTwoFactorService(store.Users(), infra.TOTP, infra.Audit),
		Plans:      plans,
		Settings:   settings,
		Generation: generation,
		Batch:      batch,
		Media:      media,
		Voice:      voice,
		Affiliate:  affiliate,
		Reseller:   service.NewResellerService(store.Resellers(), plans, auth, infra.Audit, logger),
		Billing:    service.NewBillingService(cfg.Billing.StripeWebhookSecret, plans, logger),
		Tokens:     tokens,
		AdminUser:  service.NewAdminUserService(store, plans, infra.Hasher, infra.Audit, logger),
		AdminSystem: service.NewAdminSystemService(service.AdminSystemOptions{
			Version:           Version,
			Environment:       cfg.Log.Environment,
			StartedAt:         startedAt,
			DataDir:           cfg.Storage.LocalDir,
			NotificationQueue: infra.EmailQueue,
			Store:             store,
			Tokens:            tokens,
			Fetcher:           &fetcher,
		}),
		I18n: translator,
	}

	a.scheduler = job.NewScheduler(logger)
	return job.RegisterDefaults(a.scheduler, job.Deps{
		Poller:   generation,
		Retrier:  generation,
		Plans:    plans,
		Pools:    tokens,
		Emails:   infra.EmailQueue,
		Notifier: infra.Mailer,
		Logger:   logger,
	})
}

// Close releases infrastructure and the database; it is safe on a partly wired app.
func (a *app) Close() error {
	var errs []error
	if a.infra != nil {
		errs = append(errs, a.infra.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// withApp runs fn against a quietly wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, nil, time.Now().UTC())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
