package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"eve-trade-analytics/internal/esi"
	"eve-trade-analytics/internal/logger"
)

const defaultPrefix = "eta:"

// RedisHistory caches raw market history in Redis, one JSON value per
// region/type pair, expiring after the configured TTL.
// Lookups fail open: any Redis error is logged and reported as a miss.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures NewRedisHistory.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// NewRedisHistory connects to Redis and checks the connection.
func NewRedisHistory(ctx context.Context, opts Options) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
		MaxRetries:  2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", opts.Addr, err)
	}
	return newRedisHistory(client, opts), nil
}

func newRedisHistory(client *redis.Client, opts Options) *RedisHistory {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHistory{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis connection.
func (r *RedisHistory) Close() error {
	return r.client.Close()
}

// Health checks Redis health.
func (r *RedisHistory) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisHistory) key(regionID, typeID int32) string {
	return fmt.Sprintf("%shistory:%d:%d", r.prefix, regionID, typeID)
}

// GetHistory implements esi.HistoryCache.
func (r *RedisHistory) GetHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, bool) {
	data, err := r.client.Get(ctx, r.key(regionID, typeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logger.Warn("CACHE", fmt.Sprintf("redis get history %d/%d: %v", regionID, typeID, err))
		return nil, false
	}
	var entries []esi.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("CACHE", fmt.Sprintf("decode history %d/%d: %v", regionID, typeID, err))
		return nil, false
	}
	if len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

// SetHistory implements esi.HistoryCache.
func (r *RedisHistory) SetHistory(ctx context.Context, regionID, typeID int32, entries []esi.HistoryEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		logger.Warn("CACHE", fmt.Sprintf("encode history %d/%d: %v", regionID, typeID, err))
		return
	}
	if err := r.client.Set(ctx, r.key(regionID, typeID), data, r.ttl).Err(); err != nil {
		logger.Warn("CACHE", fmt.Sprintf("redis set history %d/%d: %v", regionID, typeID, err))
	}
}

// Purge deletes every cached history key under the prefix and returns how many were removed.
func (r *RedisHistory) Purge(ctx context.Context) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.prefix+"history:*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}
