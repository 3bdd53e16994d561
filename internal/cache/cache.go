package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("cache: miss")

// Store is a key-value store with per-key expiry backed by Redis.
type Store struct {
	client *redis.Client
	log    *log.Logger
}

// New wraps a redis client.
func New(client *redis.Client, logger *log.Logger) *Store {
	return &Store{client: client, log: logger}
}

// Client exposes the underlying connection for components that need
// multi-key or scripted operations.
func (s *Store) Client() *redis.Client { return s.client }

// Get returns the raw value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// SetWithTTL stores value at key for ttl.
func (s *Store) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// TTL returns the remaining lifetime of key, or a non-positive value when the
// key is missing or has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

// KeysMatching returns every key matching a glob pattern. SCAN is used so
// large keyspaces do not block the server.
func (s *Store) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// GetJSON decodes the JSON value at key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dst)
}

// SetJSON stores v encoded as JSON.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetWithTTL(ctx, key, raw, ttl)
}

// JSONCache is satisfied by Store and by test doubles.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Remember returns the cached JSON value at key, or calls load, caches its
// result for ttl and returns it. Cache failures fall through to load.
func Remember[T any](ctx context.Context, c JSONCache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if err := c.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	}
	fresh, err := load(ctx)
	if err != nil {
		return fresh, err
	}
	_ = c.SetJSON(ctx, key, fresh, ttl)
	return fresh, nil
}

// Invalidate deletes every key matching each pattern. Failures are logged,
// never returned: a stale read cache must not fail the write that triggered it.
func (s *Store) Invalidate(ctx context.Context, patterns ...string) {
	for _, pattern := range patterns {
		keys, err := s.KeysMatching(ctx, pattern)
		if err != nil {
			s.log.Errorf("invalidate %s: %v", pattern, err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.Delete(ctx, keys...); err != nil {
			s.log.Errorf("invalidate %s: %v", pattern, err)
			continue
		}
		s.log.Debugf("invalidated %d cache keys matching %s", len(keys), pattern)
	}
}
