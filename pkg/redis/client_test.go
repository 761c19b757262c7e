package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/subsync/pkg/config"
)

func TestAllowFixedWindow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i := int64(1); i <= 2; i++ {
		win, err := client.Allow(ctx, "scope", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, win.Allowed)
		assert.Equal(t, i, win.Count)
		assert.Zero(t, win.ResetIn)
	}

	mock.ttl[client.RateLimitKey("scope")] = 42 * time.Second
	win, err := client.Allow(ctx, "scope", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, win.Allowed)
	assert.Equal(t, int64(3), win.Count)
	assert.Equal(t, 42*time.Second, win.ResetIn)

	assert.Equal(t, 1, mock.expireSet[client.RateLimitKey("scope")], "the ttl is only applied once per window")
}

func TestAllowFallsBackToWindowWhenTTLUnknown(t *testing.T) {
	mock := newMockCmdable()
	client := &Client{store: mock}
	ctx := context.Background()

	_, _ = client.Allow(ctx, "scope", 0, time.Minute)
	mock.ttlErr = errors.New("ttl failed")
	win, err := client.Allow(ctx, "scope", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, win.Allowed)
	assert.Equal(t, time.Minute, win.ResetIn)
}

func TestAllowSurfacesStoreErrors(t *testing.T) {
	mock := newMockCmdable()
	mock.incrErr = errors.New("connection refused")
	client := &Client{store: mock}

	_, err := client.Allow(context.Background(), "scope", 1, time.Minute)
	require.Error(t, err)

	var nilClient *Client
	_, err = nilClient.Allow(context.Background(), "scope", 1, time.Minute)
	assert.ErrorIs(t, err, errNotInitialized)
}

func TestLockPrimitives(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.LockKey("billing-sweep")
	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.SetNX(ctx, key, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second setnx should lose")

	owner, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", owner)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "subsync:rate_limit:billing_sync:user-1", client.RateLimitKey(UserSyncScope("user-1")))
	assert.Equal(t, "subsync:lock:billing-sweep", client.LockKey(" billing-sweep "))
	assert.Equal(t, "subsync:rate_limit", client.RateLimitKey(""))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3", DB: 1, PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB, "the url database wins")
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

type mockCmdable struct {
	data      map[string]string
	counters  map[string]int64
	ttl       map[string]time.Duration
	expireSet map[string]int
	incrErr   error
	ttlErr    error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:      map[string]string{},
		counters:  map[string]int64{},
		ttl:       map[string]time.Duration{},
		expireSet: map[string]int{},
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	if m.incrErr != nil {
		return redis.NewIntResult(0, m.incrErr)
	}
	m.counters[key]++
	return redis.NewIntResult(m.counters[key], nil)
}

func (m *mockCmdable) ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if _, ok := m.ttl[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.ttl[key] = expiration
	m.expireSet[key]++
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) TTL(ctx context.Context, key string) *redis.DurationCmd {
	if m.ttlErr != nil {
		return redis.NewDurationResult(0, m.ttlErr)
	}
	return redis.NewDurationResult(m.ttl[key], nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
