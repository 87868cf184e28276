package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement-reconciler/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendREST     = "rest"
	BackendMemory   = "memory"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

// StoreConfig selects the repository backend and its connection settings.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend"`
	DatabaseURL string        `mapstructure:"database_url"`
	APIURL      string        `mapstructure:"api_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout"`
}

// LockConfig configures the redsync request lock. An empty RedisAddr selects the in-process lock.
type LockConfig struct {
	RedisAddr  string        `mapstructure:"redis_addr"`
	Expiry     time.Duration `mapstructure:"expiry"`
	Tries      int           `mapstructure:"tries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// Config is the process configuration. Values come from config.yaml when present,
// overridden by the environment (a .env file is loaded first).
type Config struct {
	Server           ServerConfig      `mapstructure:"server"`
	Store            StoreConfig       `mapstructure:"store"`
	Lock             LockConfig        `mapstructure:"lock"`
	LogLevel         string            `mapstructure:"log_level"`
	BatchConcurrency int               `mapstructure:"batch_concurrency"`
	StatusMapping    map[string]string `mapstructure:"status_mapping"`
}

// Load reads configuration from path/config.yaml (optional) and the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("server.port", "8080")
	v.SetDefault("store.backend", BackendPostgres)
	v.SetDefault("store.api_timeout", 10*time.Second)
	v.SetDefault("lock.expiry", 30*time.Second)
	v.SetDefault("lock.tries", 20)
	v.SetDefault("lock.retry_delay", 250*time.Millisecond)
	v.SetDefault("log_level", "info")
	v.SetDefault("batch_concurrency", core.DefaultBatchConcurrency)

	v.AutomaticEnv()
	for key, env := range map[string]string{
		"server.port":            "SERVER_PORT",
		"server.allowed_origins": "ALLOWED_ORIGINS",
		"store.backend":          "STORE_BACKEND",
		"store.database_url":     "DATABASE_URL",
		"store.api_url":          "PROCUREMENT_API_URL",
		"store.api_timeout":      "PROCUREMENT_API_TIMEOUT",
		"lock.redis_addr":        "REDIS_ADDR",
		"lock.expiry":            "LOCK_EXPIRY",
		"log_level":              "LOG_LEVEL",
		"batch_concurrency":      "BATCH_CONCURRENCY",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case BackendREST:
		if c.Store.APIURL == "" {
			return errors.New("PROCUREMENT_API_URL is required for the rest store")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want postgres, rest or memory)", c.Store.Backend)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.BatchConcurrency)
	}
	return nil
}

// Mapping builds the status mapping. Without an override the default table is used;
// an override must be complete.
func (c Config) Mapping() (core.StatusMapping, error) {
	if len(c.StatusMapping) == 0 {
		return core.DefaultStatusMapping(), nil
	}
	entries := make(map[core.BasketStatus]core.RequestStatus, len(c.StatusMapping))
	for bs, rs := range c.StatusMapping {
		entries[core.BasketStatus(strings.ToUpper(bs))] = core.RequestStatus(strings.ToLower(rs))
	}
	return core.NewStatusMapping(entries)
}
