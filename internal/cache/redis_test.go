package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve-trade-analytics/internal/esi"
)

// unreachable returns a cache whose client points at a closed port.
func unreachable(t *testing.T) *RedisHistory {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return newRedisHistory(client, Options{})
}

func TestRedisHistory_KeyLayout(t *testing.T) {
	r := newRedisHistory(redis.NewClient(&redis.Options{}), Options{Prefix: "test:"})
	assert.Equal(t, "test:history:10000002:34", r.key(10000002, 34))

	def := newRedisHistory(redis.NewClient(&redis.Options{}), Options{})
	assert.Equal(t, "eta:history:1:2", def.key(1, 2))
	assert.Equal(t, 24*time.Hour, def.ttl)
}

func TestRedisHistory_FailsOpen(t *testing.T) {
	r := unreachable(t)
	ctx := context.Background()

	r.SetHistory(ctx, 1, 2, []esi.HistoryEntry{{Date: "2024-01-01", Average: 1}})
	got, ok := r.GetHistory(ctx, 1, 2)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Error(t, r.Health(ctx))
}

func TestNewRedisHistory_PingFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisHistory(ctx, Options{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
