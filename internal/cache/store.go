package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is the cache contract shared by sessions, rate limiting and settings lookups.
type Store interface {
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, bool)
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, key string)
	TTL(ctx context.Context, key string) (time.Duration, bool)
	Namespace(prefix string) Store

	// Increment adds delta to the stored integer, returning the updated value.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Options configure the in-memory store.
type Options struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Prefix          string
}

// NewStore builds a process-local store on go-cache.
func NewStore(opts Options) Store {
	ks := newKeyspace(opts.Prefix, opts.DefaultTTL)
	sweep := opts.CleanupInterval
	if sweep <= 0 {
		sweep = ks.defaultTTL
	}
	return &memoryStore{items: gocache.New(ks.defaultTTL, sweep), keyspace: ks}
}

type memoryStore struct {
	keyspace
	items *gocache.Cache
}

func (s *memoryStore) SetString(_ context.Context, key, value string, ttl time.Duration) error {
	s.items.Set(s.full(key), value, s.expiry(ttl))
	return nil
}

func (s *memoryStore) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	s.items.Set(s.full(key), string(data), s.expiry(ttl))
	return nil
}

// GetString also answers for counters written by Increment.
func (s *memoryStore) GetString(_ context.Context, key string) (string, bool) {
	v, ok := s.items.Get(s.full(key))
	if !ok {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func (s *memoryStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok := s.GetString(ctx, key)
	if !ok {
		return false, nil
	}
	if err := decode(key, []byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) { s.items.Delete(s.full(key)) }

func (s *memoryStore) TTL(_ context.Context, key string) (time.Duration, bool) {
	_, expires, ok := s.items.GetWithExpiration(s.full(key))
	if !ok || expires.IsZero() {
		return 0, false
	}
	left := time.Until(expires)
	return max(left, 0), left > 0
}

func (s *memoryStore) Namespace(prefix string) Store {
	return &memoryStore{items: s.items, keyspace: s.child(prefix)}
}

func (s *memoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, nil
	}
	full := s.full(key)
	// Add fails on an existing key, so only the first writer sets the expiry.
	_ = s.items.Add(full, int64(0), s.expiry(ttl))
	n, err := s.items.IncrementInt64(full, delta)
	if err != nil {
		return 0, fmt.Errorf("cache increment %s: %w", key, err)
	}
	return n, nil
}
