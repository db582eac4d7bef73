package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads config.yaml, .env and VEO3_* environment variables on top of defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads an explicit config file when path is set.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/veo3/")
	}

	v.SetEnvPrefix("VEO3")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range explicitEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path == "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := loadDotEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// explicitEnv binds keys whose env names do not follow the prefix convention.
var explicitEnv = map[string]string{
	"billing.stripe_webhook_secret": "STRIPE_WEBHOOK_SECRET",
	"sentry.dsn":                    "SENTRY_DSN",
	"events.amqp_url":               "AMQP_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.public_url", "http://localhost:8080")
	v.SetDefault("http.cookie_secure", false)
	v.SetDefault("http.rate_limit", 120)
	v.SetDefault("http.rate_window", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "production")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/veo3.db")

	v.SetDefault("auth.signing_key", "change-me")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.issuer", "veo3")
	v.SetDefault("auth.audience", "veo3-web")
	v.SetDefault("auth.leeway", "30s")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.cookie_name", "veo3_session")
	v.SetDefault("auth.totp_issuer", "VEO3.pk")
	v.SetDefault("auth.challenge_ttl", "5m")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.prefix", "veo3")
	v.SetDefault("cache.default_ttl", "5m")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "veo3")
	v.SetDefault("metrics.subsystem", "http")

	v.SetDefault("quota.timezone", "UTC")
	v.SetDefault("quota.voice_window_days", 10)

	v.SetDefault("generation.poll_interval", "15s")
	v.SetDefault("generation.max_polls", 40)
	v.SetDefault("generation.max_retry_attempts", 3)
	v.SetDefault("generation.retry_delay_minutes", 5)
	v.SetDefault("generation.max_concurrency", 20)
	v.SetDefault("generation.max_batch_size", 100)
	v.SetDefault("generation.token_attempts", 3)
	v.SetDefault("generation.heartbeat", "15s")

	v.SetDefault("upstream.video_base_url", "https://aisandbox-pa.googleapis.com/v1")
	v.SetDefault("upstream.image_base_url", "https://aisandbox-pa.googleapis.com/v1")
	v.SetDefault("upstream.cartesia_base_url", "https://api.cartesia.ai")
	v.SetDefault("upstream.zyphra_base_url", "http://api.zyphra.com/v1")
	v.SetDefault("upstream.video_model", "veo_3_0_t2v_fast")
	v.SetDefault("upstream.image_model", "IMAGEN_3_5")
	v.SetDefault("upstream.timeout", "60s")
	v.SetDefault("upstream.rate_per_second", 10)
	v.SetDefault("upstream.burst", 20)
	v.SetDefault("upstream.max_retries", 3)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "data/media")
	v.SetDefault("storage.base_url", "/media")

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.queue_capacity", 1000)
	v.SetDefault("events.exchange", "veo3.events")
	v.SetDefault("sentry.traces_sample_rate", 0.2)

	v.SetDefault("backup.dir", "data/backups")
	v.SetDefault("backup.keep", 7)
	v.SetDefault("backup.ftp.port", 21)

	v.SetDefault("ui.enabled", false)
	v.SetDefault("ui.dir", "web/dist")
	v.SetDefault("ui.title", "VEO3.pk")
}

func loadDotEnv(v *viper.Viper) error {
	candidates := []string{".", ".."}
	for _, path := range candidates {
		file := filepath.Clean(filepath.Join(path, ".env"))
		if _, err := os.Stat(file); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat .env: %w", err)
		}

		envViper := viper.New()
		envViper.SetConfigFile(file)
		envViper.SetConfigType("env")
		if err := envViper.ReadInConfig(); err != nil {
			return fmt.Errorf("read .env: %w", err)
		}
		bindLegacyEnv(v, envViper)
	}
	return nil
}

// bindLegacyEnv maps the flat variables used by the old deployment scripts.
func bindLegacyEnv(target *viper.Viper, source *viper.Viper) {
	mappings := map[string]string{
		"PORT":                  "http.addr",
		"LOG_LEVEL":             "log.level",
		"LOG_FORMAT":            "log.format",
		"DB_PATH":               "database.path",
		"SESSION_SECRET":        "auth.signing_key",
		"REDIS_URL":             "cache.redis_addr",
		"SMTP_HOST":             "mail.host",
		"SMTP_USER":             "mail.username",
		"SMTP_PASS":             "mail.password",
		"STRIPE_WEBHOOK_SECRET": "billing.stripe_webhook_secret",
		"R2_BUCKET":             "storage.bucket",
		"R2_ENDPOINT":           "storage.endpoint",
		"R2_ACCESS_KEY_ID":      "storage.access_key",
		"R2_SECRET_ACCESS_KEY":  "storage.secret_key",
		"R2_PUBLIC_URL":         "storage.public_url",
	}

	for oldKey, newKey := range mappings {
		if val := source.GetString(oldKey); val != "" {
			if oldKey == "PORT" && !strings.Contains(val, ":") {
				val = "0.0.0.0:" + val
			}
			target.Set(newKey, val)
		}
	}
}
