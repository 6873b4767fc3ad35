package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
)

// memoryCommands evaluates the single Lua script the client sends by hand.
type memoryCommands struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryCommands() *memoryCommands {
	return &memoryCommands{data: map[string]string{}}
}

func (m *memoryCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memoryCommands) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryCommands) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *memoryCommands) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if script != compareAndDelete {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestSetNXIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newMemoryCommands()}

	ok, err := client.SetNX(ctx, "k", "v1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.SetNX(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	require.ErrorIs(t, err, redis.Nil)
}

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newMemoryCommands()}
	_, err := client.SetNX(ctx, "mf:lock:payouts", "worker-a", time.Minute)
	require.NoError(t, err)

	removed, err := client.CompareAndDelete(ctx, "mf:lock:payouts", "worker-b")
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = client.CompareAndDelete(ctx, "mf:lock:payouts", "worker-a")
	require.NoError(t, err)
	require.True(t, removed)

	_, err = client.Get(ctx, "mf:lock:payouts")
	require.ErrorIs(t, err, redis.Nil)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	require.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	_, err := client.CompareAndDelete(context.Background(), "k", "v")
	require.ErrorIs(t, err, errNotInitialized)
	require.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	require.Equal(t, "mf:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	require.Equal(t, "mf:idempotency:id", client.IdempotencyKey(" ", "id"))
	require.Equal(t, "mf:lock:cron:prod:seller_payouts", client.LockKey("cron:prod:seller_payouts"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://localhost:6379/2",
		DB:          5,
		PoolSize:    7,
		DialTimeout: 3 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 2, opts.DB, "url db wins over config")
	require.Equal(t, 7, opts.PoolSize)
	require.Equal(t, 3*time.Second, opts.DialTimeout)
}
