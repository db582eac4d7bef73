package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veo3pk/studio/internal/api/handler"
	"github.com/veo3pk/studio/internal/api/middleware"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
)

var probePaths = []string{"/health", "/healthz", "/_internal/ready", "/metrics"}

// Services is everything the HTTP surface calls into.
type Services struct {
	Auth        service.AuthService
	TwoFactor   service.TwoFactorService
	Plans       service.PlanService
	Settings    service.SettingsService
	Generation  service.GenerationService
	Batch       service.BatchService
	Media       service.MediaService
	Voice       service.VoiceService
	Affiliate   service.AffiliateService
	Reseller    service.ResellerService
	Billing     service.BillingService
	Tokens      service.TokenPoolService
	AdminUser   service.AdminUserService
	AdminSystem service.AdminSystemService
	I18n        *i18n.Manager
}

// RouterOption customises the router beyond the config file.
type RouterOption func(*routerOptions)

type routerOptions struct {
	ui         UIOptions
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	sentry     bool
	jobs       handler.JobRunner
	ready      func(context.Context) error
}

// WithMetricsRegistry registers HTTP collectors on reg and serves /metrics from it.
func WithMetricsRegistry(reg *prometheus.Registry) RouterOption {
	return func(ro *routerOptions) {
		ro.registerer = reg
		ro.gatherer = reg
	}
}

// WithSentry reports panics and request errors to an initialised Sentry hub.
func WithSentry() RouterOption {
	return func(ro *routerOptions) {
		ro.sentry = true
	}
}

// WithJobs exposes the background scheduler to admins.
func WithJobs(jobs handler.JobRunner) RouterOption {
	return func(ro *routerOptions) {
		ro.jobs = jobs
	}
}

// WithReadiness makes /_internal/ready answer 503 while check fails.
func WithReadiness(check func(context.Context) error) RouterOption {
	return func(ro *routerOptions) {
		ro.ready = check
	}
}

// NewRouter wires middleware, probes and every API route.
func NewRouter(logger *slog.Logger, services Services, cfg config.Config, opts ...RouterOption) http.Handler {
	var options routerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	requireServices(services)
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID, chiMiddleware.RealIP)
	if options.sentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}

	if cfg.Metrics.Enabled {
		mCfg := middleware.DefaultMetricsConfig()
		if cfg.Metrics.Namespace != "" {
			mCfg.Namespace = cfg.Metrics.Namespace
		}
		if cfg.Metrics.Subsystem != "" {
			mCfg.Subsystem = cfg.Metrics.Subsystem
		}
		if len(cfg.Metrics.Buckets) > 0 {
			mCfg.Buckets = cfg.Metrics.Buckets
		}
		mCfg.Registerer = options.registerer
		r.Use(middleware.NewMetrics(mCfg).Middleware())
	}

	cors := middleware.DefaultCORSConfig()
	if cfg.HTTP.PublicURL != "" {
		cors.AllowedOrigins = []string{cfg.HTTP.PublicURL}
		cors.AllowCredentials = true
	}
	r.Use(
		middleware.CORS(cors),
		middleware.BodyLimit(middleware.BodyLimitConfig{
			MaxBytes: 2 << 20,
			// Batches and reference images carry data URLs.
			Overrides: map[string]int64{
				"/api/video/batch-stream":     32 << 20,
				"/api/image/batch-stream":     32 << 20,
				"/api/generate-image":         16 << 20,
				"/api/start-video-generation": 16 << 20,
				"/api/community-voices":       8 << 20,
			},
		}),
	)
	if cfg.HTTP.RateLimit > 0 {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Limit:        cfg.HTTP.RateLimit,
			Window:       cfg.HTTP.RateWindow,
			SkipPaths:    probePaths,
			SkipPrefixes: []string{"/media/", "/assets/"},
		}))
	}
	r.Use(
		middleware.StructuredLogger(middleware.LoggingConfig{
			Logger:    logger,
			SkipPaths: probePaths,
		}),
		chiMiddleware.Recoverer,
		middleware.I18n(services.I18n),
	)

	registerProbes(r, cfg.Metrics, options)

	mediaHandler := handler.NewMediaHandler(services.Media, services.I18n, logger)
	r.Get("/media/*", mediaHandler.Serve)
	r.Head("/media/*", mediaHandler.Serve)

	r.Route("/api", func(api chi.Router) {
		registerPublicRoutes(api, services, cfg, logger)
		api.Group(func(user chi.Router) {
			user.Use(middleware.SessionGuard(services.Auth, cfg.Auth.CookieName, services.I18n))
			registerUserRoutes(user, services, cfg, logger)
			user.Route("/admin", func(admin chi.Router) {
				admin.Use(middleware.AdminGuard(services.I18n))
				registerAdminRoutes(admin, services, options, logger)
			})
		})
		api.NotFound(func(w http.ResponseWriter, req *http.Request) {
			handler.RespondErrorI18n(req.Context(), w, http.StatusNotFound, "error.not_found", services.I18n)
		})
	})

	if options.ui.Enabled {
		spa, err := newFrontend(logger, options.ui)
		if err != nil {
			logger.Warn("ui disabled", "error", err)
		} else {
			r.NotFound(spa.ServeHTTP)
		}
	}
	return r
}

func requireServices(s Services) {
	switch {
	case s.Auth == nil:
		panic("router requires AuthService")
	case s.TwoFactor == nil:
		panic("router requires TwoFactorService")
	case s.Plans == nil:
		panic("router requires PlanService")
	case s.Settings == nil:
		panic("router requires SettingsService")
	case s.Generation == nil:
		panic("router requires GenerationService")
	case s.Batch == nil:
		panic("router requires BatchService")
	case s.Media == nil:
		panic("router requires MediaService")
	case s.Voice == nil:
		panic("router requires VoiceService")
	case s.Affiliate == nil:
		panic("router requires AffiliateService")
	case s.Reseller == nil:
		panic("router requires ResellerService")
	case s.Billing == nil:
		panic("router requires BillingService")
	case s.Tokens == nil:
		panic("router requires TokenPoolService")
	case s.AdminUser == nil:
		panic("router requires AdminUserService")
	case s.AdminSystem == nil:
		panic("router requires AdminSystemService")
	}
}

func registerProbes(r chi.Router, metricsCfg config.MetricsConfig, options routerOptions) {
	healthy := func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	r.Get("/healthz", healthy)
	r.Get("/health", healthy)
	r.Get("/_internal/ready", func(w http.ResponseWriter, req *http.Request) {
		if options.ready != nil {
			if err := options.ready(req.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if !metricsCfg.Enabled {
		return
	}
	metrics := promhttp.Handler()
	if options.gatherer != nil {
		metrics = promhttp.HandlerFor(options.gatherer, promhttp.HandlerOpts{})
	}
	if metricsCfg.Token != "" {
		r.With(middleware.MetricsGuard(metricsCfg.Token)).Handle("/metrics", metrics)
		return
	}
	r.Handle("/metrics", metrics)
}

func cookieOptions(cfg config.Config) handler.CookieOptions {
	name := cfg.Auth.CookieName
	if name == "" {
		name = middleware.DefaultSessionCookie
	}
	return handler.CookieOptions{Name: name, Secure: cfg.HTTP.CookieSecure}
}

func registerPublicRoutes(api chi.Router, s Services, cfg config.Config, logger *slog.Logger) {
	authHandler := handler.NewAuthHandler(s.Auth, s.TwoFactor, cookieOptions(cfg), s.I18n, logger)
	accountHandler := handler.NewAccountHandler(s.Plans, s.Settings, s.I18n, logger)
	billingHandler := handler.NewBillingHandler(s.Billing, s.I18n, logger)

	api.Post("/auth/login", authHandler.Login)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/2fa/verify", authHandler.VerifyTwoFactor)
	api.Get("/plans", accountHandler.Plans)
	api.Get("/maintenance", accountHandler.Maintenance)
	api.Post("/billing/stripe/webhook", billingHandler.StripeWebhook)
}

func registerUserRoutes(user chi.Router, s Services, cfg config.Config, logger *slog.Logger) {
	authHandler := handler.NewAuthHandler(s.Auth, s.TwoFactor, cookieOptions(cfg), s.I18n, logger)
	accountHandler := handler.NewAccountHandler(s.Plans, s.Settings, s.I18n, logger)
	genHandler := handler.NewGenerationHandler(s.Generation, s.Media, s.I18n, logger)
	batchHandler := handler.NewBatchHandler(s.Batch, cfg.Generation.Heartbeat, s.I18n, logger)
	voiceHandler := handler.NewVoiceHandler(s.Voice, s.I18n, logger)
	affiliateHandler := handler.NewAffiliateHandler(s.Affiliate, s.I18n, logger)
	resellerHandler := handler.NewResellerHandler(s.Reseller, s.I18n, logger)

	user.Route("/auth", func(auth chi.Router) {
		auth.Get("/me", authHandler.Me)
		auth.Post("/logout", authHandler.Logout)
		auth.Post("/password", authHandler.ChangePassword)
		auth.Post("/2fa/setup", authHandler.SetupTwoFactor)
		auth.Post("/2fa/enable", authHandler.EnableTwoFactor)
		auth.Post("/2fa/disable", authHandler.DisableTwoFactor)
	})
	user.Get("/quota", accountHandler.Quota)

	user.Post("/start-video-generation", genHandler.StartVideo)
	user.Post("/check-video-status", genHandler.CheckVideoStatus)
	user.Post("/regenerate-video", genHandler.Regenerate)
	user.Get("/video-history", genHandler.VideoHistory)
	user.Post("/video-history/download", genHandler.Download)
	user.Delete("/video-history/{id}", genHandler.DeleteVideo)
	user.Post("/generate-image", genHandler.GenerateImage)
	user.Get("/image-history", genHandler.ImageHistory)
	user.Delete("/image-history/{id}", genHandler.DeleteImage)
	user.Post("/video/batch-stream", batchHandler.VideoStream)
	user.Post("/image/batch-stream", batchHandler.ImageStream)

	user.Post("/voice/generate", voiceHandler.Generate)
	user.Get("/community-voices", voiceHandler.ListCommunity)
	user.Post("/community-voices", voiceHandler.CreateCommunity)
	user.Post("/community-voices/{id}/like", voiceHandler.Like)
	user.Delete("/community-voices/{id}", voiceHandler.DeleteCommunity)
	user.Get("/top-voices", voiceHandler.ListTop)

	user.Route("/affiliate", func(aff chi.Router) {
		aff.Get("/summary", affiliateHandler.Summary)
		aff.Get("/earnings", affiliateHandler.Earnings)
		aff.Get("/withdrawals", affiliateHandler.Withdrawals)
		aff.Post("/withdrawals", affiliateHandler.RequestWithdrawal)
	})
	user.Route("/reseller", func(rs chi.Router) {
		rs.Get("/summary", resellerHandler.Summary)
		rs.Get("/ledger", resellerHandler.Ledger)
		rs.Post("/users", resellerHandler.ProvisionUser)
	})
}

func registerAdminRoutes(admin chi.Router, s Services, options routerOptions, logger *slog.Logger) {
	userHandler := handler.NewAdminUserHandler(s.AdminUser, s.Auth, s.I18n, logger)
	tokenHandler := handler.NewAdminTokenHandler(s.Tokens, s.I18n, logger)
	planHandler := handler.NewAdminPlanHandler(s.Plans, s.I18n, logger)
	settingsHandler := handler.NewAdminSettingsHandler(s.Settings, s.I18n, logger)
	withdrawalHandler := handler.NewAdminWithdrawalHandler(s.Affiliate, s.I18n, logger)
	resellerHandler := handler.NewAdminResellerHandler(s.Reseller, s.I18n, logger)
	voiceHandler := handler.NewVoiceHandler(s.Voice, s.I18n, logger)
	systemHandler := handler.NewAdminSystemHandler(s.AdminSystem, s.Generation, options.jobs, s.I18n, logger)

	admin.Get("/users", userHandler.List)
	admin.Post("/users", userHandler.Create)
	admin.Get("/users/{id:[0-9]+}", userHandler.Get)
	admin.Put("/users/{id:[0-9]+}", userHandler.Update)

	admin.Get("/tokens", tokenHandler.List)
	admin.Post("/tokens", tokenHandler.Create)
	admin.Get("/tokens/{id:[0-9]+}", tokenHandler.Get)
	admin.Put("/tokens/{id:[0-9]+}", tokenHandler.Update)
	admin.Delete("/tokens/{id:[0-9]+}", tokenHandler.Delete)
	admin.Post("/tokens/{id:[0-9]+}/reset", tokenHandler.Reset)
	admin.Get("/pools", tokenHandler.Pools)
	admin.Put("/pools/{pool}", tokenHandler.UpdatePool)

	admin.Get("/plans", planHandler.List)
	admin.Get("/plans/{planType}", planHandler.Get)
	admin.Put("/plans/{planType}", planHandler.Update)

	admin.Route("/settings", func(st chi.Router) {
		st.Get("/maintenance", settingsHandler.GetMaintenance)
		st.Put("/maintenance", settingsHandler.PutMaintenance)
		st.Get("/affiliate", settingsHandler.GetAffiliate)
		st.Put("/affiliate", settingsHandler.PutAffiliate)
		st.Get("/generation", settingsHandler.GetGeneration)
		st.Put("/generation", settingsHandler.PutGeneration)
	})

	admin.Get("/withdrawals", withdrawalHandler.List)
	admin.Post("/withdrawals/{id:[0-9]+}/approve", withdrawalHandler.Approve)
	admin.Post("/withdrawals/{id:[0-9]+}/reject", withdrawalHandler.Reject)

	admin.Get("/resellers", resellerHandler.List)
	admin.Post("/resellers", resellerHandler.Create)
	admin.Get("/resellers/{id:[0-9]+}", resellerHandler.Get)
	admin.Post("/resellers/{id:[0-9]+}/topup", resellerHandler.TopUp)
	admin.Put("/resellers/{id:[0-9]+}/active", resellerHandler.SetActive)
	admin.Get("/resellers/{id:[0-9]+}/ledger", resellerHandler.Ledger)

	admin.Get("/top-voices", voiceHandler.ListTop)
	admin.Post("/top-voices", voiceHandler.SaveTop)
	admin.Put("/top-voices/{id:[0-9]+}", voiceHandler.SaveTop)
	admin.Delete("/top-voices/{id:[0-9]+}", voiceHandler.DeleteTop)

	admin.Get("/history", systemHandler.History)
	admin.Get("/system/status", systemHandler.Status)
	admin.Get("/jobs", systemHandler.Jobs)
	admin.Post("/jobs/{name}/run", systemHandler.RunJob)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
