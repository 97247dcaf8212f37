package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis records the last key and ttl and returns canned results.
type fakeRedis struct {
	lastKey string
	lastTTL time.Duration

	getVal   string
	getErr   error
	setErr   error
	setNXOK  bool
	setNXErr error
	exists   int64
	pingErr  error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.lastKey = key
	return redis.NewStringResult(f.getVal, f.getErr)
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.StatusCmd {
	f.lastKey, f.lastTTL = key, ttl
	return redis.NewStatusResult("OK", f.setErr)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	f.lastKey, f.lastTTL = key, ttl
	return redis.NewBoolResult(f.setNXOK, f.setNXErr)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.lastKey = keys[0]
	return redis.NewIntResult(f.exists, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.lastKey = keys[0]
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func TestRedisStore_GetMapsNilToNotFound(t *testing.T) {
	fake := &fakeRedis{getErr: redis.Nil}
	s := newRedisStoreWithClient(fake, "geowatch:")

	_, err := s.Get(context.Background(), "membership:s1:f1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "geowatch:membership:s1:f1", fake.lastKey)
}

func TestRedisStore_GetReturnsValue(t *testing.T) {
	fake := &fakeRedis{getVal: `{"inside":true}`}
	s := newRedisStoreWithClient(fake, "")

	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, `{"inside":true}`, string(got))
}

func TestRedisStore_BackendErrorsAreUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	fake := &fakeRedis{getErr: boom, setErr: boom, setNXErr: boom}
	s := newRedisStoreWithClient(fake, "")
	ctx := context.Background()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = s.Set(ctx, "k", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.SetNX(ctx, "k", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisStore_SetPassesTTL(t *testing.T) {
	fake := &fakeRedis{setNXOK: true}
	s := newRedisStoreWithClient(fake, "p:")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 24*time.Hour))
	assert.Equal(t, 24*time.Hour, fake.lastTTL)
	assert.Equal(t, "p:k", fake.lastKey)

	ok, err := s.SetNX(ctx, "d", []byte("1"), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, fake.lastTTL)
}

func TestRedisStore_Exists(t *testing.T) {
	s := newRedisStoreWithClient(&fakeRedis{exists: 1}, "")
	ok, err := s.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	s = newRedisStoreWithClient(&fakeRedis{exists: 0}, "")
	ok, _ = s.Exists(context.Background(), "k")
	assert.False(t, ok)
}
