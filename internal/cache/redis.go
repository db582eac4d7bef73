package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configure the shared redis-backed store.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

type redisStore struct {
	keyspace
	client redis.UniversalClient
}

// NewRedisStore connects to redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("cache: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, opts.Prefix, opts.DefaultTTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, defaultTTL time.Duration) Store {
	return &redisStore{client: client, keyspace: newKeyspace(prefix, defaultTTL)}
}

func (s *redisStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.full(key), value, s.expiry(ttl)).Err()
}

func (s *redisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.full(key), data, s.expiry(ttl)).Err()
}

func (s *redisStore) GetString(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, s.full(key)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *redisStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, s.full(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := decode(key, raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) {
	s.client.Del(ctx, s.full(key))
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, bool) {
	ttl, err := s.client.TTL(ctx, s.full(key)).Result()
	if err != nil || ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

func (s *redisStore) Namespace(prefix string) Store {
	return &redisStore{client: s.client, keyspace: s.child(prefix)}
}

func (s *redisStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, nil
	}
	full := s.full(key)
	current, err := s.client.IncrBy(ctx, full, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("cache increment %s: %w", key, err)
	}
	if current == delta {
		if err := s.client.Expire(ctx, full, s.expiry(ttl)).Err(); err != nil {
			return current, fmt.Errorf("cache expire %s: %w", key, err)
		}
	}
	return current, nil
}
