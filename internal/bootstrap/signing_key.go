package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// KeySource reports where the session signing key came from.
type KeySource string

const (
	KeyFromConfig    KeySource = "config"
	KeyFromSettings  KeySource = "settings"
	KeyFromGenerated KeySource = "generated"
)

const (
	placeholderSigningKey = "change-me"
	signingKeySetting     = "auth.session_signing_key"
	signingKeyHint        = "set VEO3_AUTH_SIGNING_KEY or SESSION_SECRET"
)

// ResolveSigningKey returns the configured session key, or the one stored in
// settings, generating and storing a random key on first boot. Concurrent
// first boots converge on whichever key was written first.
func ResolveSigningKey(ctx context.Context, db *sql.DB, configured string, now func() time.Time) (string, KeySource, error) {
	return resolveSigningKey(ctx, db, configured, now, rand.Reader)
}

func resolveSigningKey(ctx context.Context, db *sql.DB, configured string, now func() time.Time, entropy io.Reader) (string, KeySource, error) {
	if key := strings.TrimSpace(configured); key != "" && key != placeholderSigningKey {
		return key, KeyFromConfig, nil
	}
	if db == nil {
		return "", "", fmt.Errorf("session signing key: no database to persist a generated key; %s", signingKeyHint)
	}
	if now == nil {
		now = time.Now
	}

	stored, err := storedSigningKey(ctx, db)
	if err != nil {
		return "", "", fmt.Errorf("session signing key: %w; %s", err, signingKeyHint)
	}
	if stored != "" {
		return stored, KeyFromSettings, nil
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(entropy, raw); err != nil {
		return "", "", fmt.Errorf("session signing key: generate: %w", err)
	}
	generated := hex.EncodeToString(raw)
	if _, err := db.ExecContext(ctx,
		`INSERT INTO settings(key, value, category, updated_at) VALUES(?, ?, 'security', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE TRIM(settings.value) = ''`,
		signingKeySetting, generated, now().Unix()); err != nil {
		return "", "", fmt.Errorf("session signing key: persist: %w; %s", err, signingKeyHint)
	}

	stored, err = storedSigningKey(ctx, db)
	switch {
	case err != nil:
		return "", "", fmt.Errorf("session signing key: %w", err)
	case stored == "":
		return "", "", errors.New("session signing key: missing after persist")
	case stored == generated:
		return stored, KeyFromGenerated, nil
	default:
		return stored, KeyFromSettings, nil
	}
}

func storedSigningKey(ctx context.Context, db *sql.DB) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, signingKeySetting).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return strings.TrimSpace(value), err
}
