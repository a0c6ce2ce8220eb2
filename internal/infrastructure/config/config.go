// Package config loads process configuration from a YAML file with
// environment-variable overrides (EXCHANGE_ prefix, dots become underscores).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helltractor/trading-exchange-system/internal/infrastructure/messaging"
	"github.com/helltractor/trading-exchange-system/internal/redis"
)

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	// Driver is "postgres" in production, "sqlite" for local runs and tests.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// EngineConfig tunes the trading engine process.
type EngineConfig struct {
	OrderBookDepth int    `mapstructure:"order_book_depth"`
	DebugMode      bool   `mapstructure:"debug_mode"`
	FeeRate        string `mapstructure:"fee_rate"`
}

// Config is the root configuration shared by both processes.
type Config struct {
	LogLevel string           `mapstructure:"log_level"`
	Kafka    messaging.Config `mapstructure:"kafka"`
	Redis    redis.Config     `mapstructure:"redis"`
	Database DatabaseConfig   `mapstructure:"database"`
	Engine   EngineConfig     `mapstructure:"engine"`
}

// Load reads the config file at path (optional) and applies env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "trading")
	v.SetDefault("kafka.batch_size", 1000)
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)
	v.SetDefault("kafka.max_wait", 100*time.Millisecond)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=exchange dbname=exchange sslmode=disable")
	v.SetDefault("engine.order_book_depth", 100)
	v.SetDefault("engine.debug_mode", false)
	v.SetDefault("engine.fee_rate", "0.0005")

	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
