// Package config loads service configuration from config.yaml with
// environment overrides (QG_ prefix, e.g. QG_DATABASE_HOST).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/querygate/internal/db"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database db.Config
	Gateway  GatewayConfig
	Export   ExportConfig
	Cache    CacheConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// GatewayConfig bounds plan execution.
type GatewayConfig struct {
	CursorSecret   string
	CursorTTL      time.Duration
	MaxConcurrent  int64
	AcquireTimeout time.Duration
}

// ExportConfig drives the async export worker.
type ExportConfig struct {
	SweepSchedule string
}

// CacheConfig sizes the result cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// Load reads config.yaml from the given directory, falling back to defaults
// plus environment variables when the file is absent.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("QG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "admin")
	v.SetDefault("database.dbname", "querygate")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("gateway.cursor_secret", "")
	v.SetDefault("gateway.cursor_ttl", "1h")
	v.SetDefault("gateway.max_concurrent", 10)
	v.SetDefault("gateway.acquire_timeout", "10s")
	v.SetDefault("export.sweep_schedule", "@every 30s")
	v.SetDefault("cache.size", 512)
	v.SetDefault("cache.ttl", "5m")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Gateway: GatewayConfig{
			CursorSecret:   v.GetString("gateway.cursor_secret"),
			CursorTTL:      v.GetDuration("gateway.cursor_ttl"),
			MaxConcurrent:  v.GetInt64("gateway.max_concurrent"),
			AcquireTimeout: v.GetDuration("gateway.acquire_timeout"),
		},
		Export: ExportConfig{
			SweepSchedule: v.GetString("export.sweep_schedule"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
			TTL:  v.GetDuration("cache.ttl"),
		},
	}
	if cfg.Gateway.CursorSecret == "" {
		return Config{}, fmt.Errorf("gateway.cursor_secret must be set (QG_GATEWAY_CURSOR_SECRET)")
	}
	return cfg, nil
}
