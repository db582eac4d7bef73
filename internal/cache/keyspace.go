package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const fallbackTTL = 5 * time.Minute

// keyspace is the prefix and default expiry shared by every backend.
type keyspace struct {
	prefix     string
	defaultTTL time.Duration
}

func newKeyspace(prefix string, ttl time.Duration) keyspace {
	if ttl <= 0 {
		ttl = fallbackTTL
	}
	return keyspace{prefix: trimPrefix(prefix), defaultTTL: ttl}
}

func (k keyspace) child(prefix string) keyspace {
	parts := make([]string, 0, 2)
	for _, p := range []string{k.prefix, prefix} {
		if p = trimPrefix(p); p != "" {
			parts = append(parts, p)
		}
	}
	return keyspace{prefix: strings.Join(parts, ":"), defaultTTL: k.defaultTTL}
}

// full maps a caller key into the backend; blank keys address the prefix itself.
func (k keyspace) full(key string) string {
	key = strings.TrimSpace(key)
	if key == "" || k.prefix == "" {
		return k.prefix + key
	}
	return k.prefix + ":" + key
}

func (k keyspace) expiry(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return k.defaultTTL
}

func trimPrefix(prefix string) string { return strings.Trim(prefix, ": ") }

func encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cache encode %s: %w", key, err)
	}
	return data, nil
}

func decode(key string, raw []byte, dest any) error {
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}
