package config

import (
	"log/slog"
	"time"
)

// Config aggregates every runtime setting of the studio server.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Generation GenerationConfig `mapstructure:"generation"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Mail       MailConfig       `mapstructure:"mail"`
	Events     EventsConfig     `mapstructure:"events"`
	Billing    BillingConfig    `mapstructure:"billing"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Backup     BackupConfig     `mapstructure:"backup"`
	UI         UIConfig         `mapstructure:"ui"`
}

// HTTPConfig defines the HTTP listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PublicURL       string        `mapstructure:"public_url"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
}

// LogConfig defines slog output.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	Environment string `mapstructure:"environment"`
}

// DBConfig defines the SQLite database.
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// AuthConfig defines session tokens and password hashing.
type AuthConfig struct {
	SigningKey   string        `mapstructure:"signing_key"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	Leeway       time.Duration `mapstructure:"leeway"`
	BcryptCost   int           `mapstructure:"bcrypt_cost"`
	CookieName   string        `mapstructure:"cookie_name"`
	TOTPIssuer   string        `mapstructure:"totp_issuer"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Driver     string        `mapstructure:"driver"`
	Prefix     string        `mapstructure:"prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	RedisPass  string        `mapstructure:"redis_password"`
	RedisDB    int           `mapstructure:"redis_db"`
}

// MetricsConfig defines Prometheus exposure.
type MetricsConfig struct {
	Enabled   bool      `mapstructure:"enabled"`
	Namespace string    `mapstructure:"namespace"`
	Subsystem string    `mapstructure:"subsystem"`
	Token     string    `mapstructure:"token"`
	Buckets   []float64 `mapstructure:"buckets"`
}

// QuotaConfig controls daily and rolling quota windows.
type QuotaConfig struct {
	Timezone        string `mapstructure:"timezone"`
	VoiceWindowDays int    `mapstructure:"voice_window_days"`
}

// GenerationConfig controls polling, retry and batch fan-out.
type GenerationConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxPolls          int           `mapstructure:"max_polls"`
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	RetryDelayMinutes int           `mapstructure:"retry_delay_minutes"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	TokenAttempts     int           `mapstructure:"token_attempts"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`
}

// UpstreamConfig points at the external generation APIs.
type UpstreamConfig struct {
	VideoBaseURL    string        `mapstructure:"video_base_url"`
	ImageBaseURL    string        `mapstructure:"image_base_url"`
	CartesiaBaseURL string        `mapstructure:"cartesia_base_url"`
	ZyphraBaseURL   string        `mapstructure:"zyphra_base_url"`
	ProjectID       string        `mapstructure:"project_id"`
	VideoModel      string        `mapstructure:"video_model"`
	ImageModel      string        `mapstructure:"image_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// StorageConfig selects where generated and uploaded media lives.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	LocalDir  string `mapstructure:"local_dir"`
	BaseURL   string `mapstructure:"base_url"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PublicURL string `mapstructure:"public_url"`
}

// MailConfig configures the SMTP notifier.
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// QueueCapacity bounds unsent mail held in memory.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// EventsConfig configures domain event publishing.
type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

// BillingConfig configures the payment webhook.
type BillingConfig struct {
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// BackupConfig configures the backup command.
type BackupConfig struct {
	Dir string `mapstructure:"dir"`
	// Keep is how many local snapshots survive a new backup; 0 keeps all.
	Keep int       `mapstructure:"keep"`
	FTP  FTPConfig `mapstructure:"ftp"`
}

// FTPConfig is the remote backup target.
type FTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
}

// UIConfig points at the built frontend bundle.
type UIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Title   string `mapstructure:"title"`
	// LocalesDir holds <lang>.json files merged over the built-in translations.
	LocalesDir string `mapstructure:"locales_dir"`
}

func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Location resolves the quota timezone, falling back to UTC.
func (c QuotaConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
