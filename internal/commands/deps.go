package commands

import (
	"context"
	"fmt"

	"eve-trade-analytics/internal/cache"
	"eve-trade-analytics/internal/config"
	"eve-trade-analytics/internal/db"
	"eve-trade-analytics/internal/esi"
	"eve-trade-analytics/internal/logger"
	"eve-trade-analytics/internal/metrics"
)

// openDB opens the SQLite database and applies the configured history TTL.
func openDB(c *config.Config) (*db.DB, error) {
	database, err := db.Open(c.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	database.SetHistoryTTL(c.Cache.HistoryTTL)
	return database, nil
}

func newESIClient(c *config.Config, m *metrics.Metrics) *esi.Client {
	client := esi.NewClient(c.ESI.BaseURL, c.ESI.UserAgent, c.ESI.MaxConcurrent, c.ESI.Timeout)
	if m != nil {
		client.SetObserver(m)
	}
	return client
}

// historyCache builds the configured history cache backend. The returned
// close func releases backend connections and is never nil.
func historyCache(ctx context.Context, c *config.Config, database *db.DB, m *metrics.Metrics) (esi.HistoryCache, func(), error) {
	var (
		hc      esi.HistoryCache
		closeFn = func() {}
	)
	switch c.Cache.Backend {
	case "redis":
		rh, err := redisCache(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("CACHE", fmt.Sprintf("Using Redis history cache at %s", c.Cache.RedisAddr))
		hc = rh
		closeFn = func() { rh.Close() }
	case "sqlite", "":
		hc = database.HistoryCache()
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if m != nil {
		backend := c.Cache.Backend
		if backend == "" {
			backend = "sqlite"
		}
		hc = m.InstrumentCache(backend, hc)
	}
	return hc, closeFn, nil
}

func redisCache(ctx context.Context, c *config.Config) (*cache.RedisHistory, error) {
	return cache.NewRedisHistory(ctx, cache.Options{
		Addr:     c.Cache.RedisAddr,
		Password: c.Cache.RedisPassword,
		DB:       c.Cache.RedisDB,
		TTL:      c.Cache.HistoryTTL,
	})
}
