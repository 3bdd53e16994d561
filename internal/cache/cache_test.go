package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, log.New("test")), mr
}

func TestStore_GetSetDelete(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.SetWithTTL(ctx, "k", "v", time.Minute))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(61 * time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.SetWithTTL(ctx, "k2", "v", 0))
	require.NoError(t, s.Delete(ctx, "k2", "not-there"))
	assert.False(t, mr.Exists("k2"))
}

func TestStore_JSONRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, s.SetJSON(ctx, "p", payload{Name: "a", Count: 2}, time.Minute))

	var got payload
	require.NoError(t, s.GetJSON(ctx, "p", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)
}

func TestRemember_LoadsOnceThenServesCache(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"x", "y"}, nil
	}

	first, err := Remember(ctx, s, "cache:list", time.Minute, load)
	require.NoError(t, err)
	second, err := Remember(ctx, s, "cache:list", time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestRemember_DoesNotCacheErrors(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	_, err := Remember(ctx, s, "cache:broken", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)
	assert.False(t, mr.Exists("cache:broken"))
}

func TestInvalidate_DeletesMatchingKeysOnly(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("cache:attendance:all", "1"))
	require.NoError(t, mr.Set("cache:attendance:search=bob", "1"))
	require.NoError(t, mr.Set("cache:task:all", "1"))

	s.Invalidate(ctx, "cache:attendance:*")

	keys, err := s.KeysMatching(ctx, "cache:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:task:all"}, keys)
}
