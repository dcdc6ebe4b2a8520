package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// The Forge (Jita).
const DefaultRegionID = 10000002

// Config holds application settings.
type Config struct {
	ESI       ESIConfig       `yaml:"esi" json:"esi"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Analysis  AnalysisConfig  `yaml:"analysis" json:"analysis"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Character CharacterConfig `yaml:"character" json:"-"`
}

// ESIConfig configures the upstream market API client.
type ESIConfig struct {
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// CacheConfig selects where raw market history is cached between fetches.
type CacheConfig struct {
	Backend       string        `yaml:"backend" json:"backend"` // sqlite | redis
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"-"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	HistoryTTL    time.Duration `yaml:"history_ttl" json:"history_ttl"`
}

// AnalysisConfig holds batch defaults and the post-hoc result filters.
type AnalysisConfig struct {
	RegionID       int32   `yaml:"region_id" json:"region_id"`
	LocationID     int64   `yaml:"location_id" json:"location_id"` // 0 = whole region
	Concurrency    int     `yaml:"concurrency" json:"concurrency"`
	PredictPeriods int     `yaml:"predict_periods" json:"predict_periods"`
	MinDailyVolume float64 `yaml:"min_daily_volume" json:"min_daily_volume"` // 0 = no filter
	MinScore       int     `yaml:"min_score" json:"min_score"`               // 0 = no filter
	MinSpread      float64 `yaml:"min_spread" json:"min_spread"`             // percent, 0 = no filter
	Competition    string  `yaml:"competition" json:"competition"`           // "" = any
}

type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text | json
}

// CharacterConfig identifies whose wallet ledger is pulled for P&L.
// The access token is obtained outside this program.
type CharacterConfig struct {
	ID          int64  `yaml:"id"`
	AccessToken string `yaml:"access_token"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ESI: ESIConfig{
			BaseURL:       "https://esi.evetech.net/latest",
			UserAgent:     "eve-trade-analytics/1.0",
			MaxConcurrent: 20,
			Timeout:       30 * time.Second,
		},
		Database: DatabaseConfig{Path: "analytics.db"},
		Cache: CacheConfig{
			Backend:    "sqlite",
			RedisAddr:  "localhost:6379",
			HistoryTTL: 24 * time.Hour,
		},
		Analysis: AnalysisConfig{
			RegionID:       DefaultRegionID,
			Concurrency:    8,
			PredictPeriods: 7,
		},
		Server: ServerConfig{Host: "127.0.0.1", Port: 13371},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the config from defaults, then the YAML file at path (if it
// exists), then a .env file in the working directory (if it exists), then
// EVE_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("EVE_ESI_BASE_URL"); v != "" {
		cfg.ESI.BaseURL = v
	}
	if v := os.Getenv("EVE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("EVE_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("EVE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("EVE_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("EVE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("EVE_ACCESS_TOKEN"); v != "" {
		cfg.Character.AccessToken = v
	}
	if v := os.Getenv("EVE_CHARACTER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("EVE_CHARACTER_ID: %w", err)
		}
		cfg.Character.ID = id
	}
	if v := os.Getenv("EVE_REGION_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("EVE_REGION_ID: %w", err)
		}
		cfg.Analysis.RegionID = int32(id)
	}
	if v := os.Getenv("EVE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EVE_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// Validate rejects values that would make the analyzers or clients misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.ESI.BaseURL == "" {
		errs = append(errs, errors.New("esi.base_url is empty"))
	}
	if c.ESI.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("esi.max_concurrent must be positive, got %d", c.ESI.MaxConcurrent))
	}
	if c.Analysis.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("analysis.concurrency must be positive, got %d", c.Analysis.Concurrency))
	}
	if c.Analysis.PredictPeriods < 0 {
		errs = append(errs, fmt.Errorf("analysis.predict_periods must be >= 0, got %d", c.Analysis.PredictPeriods))
	}
	if c.Analysis.MinScore < 0 || c.Analysis.MinScore > 100 {
		errs = append(errs, fmt.Errorf("analysis.min_score must be in [0,100], got %d", c.Analysis.MinScore))
	}
	switch c.Cache.Backend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be sqlite or redis, got %q", c.Cache.Backend))
	}
	switch c.Analysis.Competition {
	case "", "low", "medium", "high", "extreme":
	default:
		errs = append(errs, fmt.Errorf("analysis.competition %q is not a competition level", c.Analysis.Competition))
	}
	return errors.Join(errs...)
}

// Addr is the host:port the API listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
