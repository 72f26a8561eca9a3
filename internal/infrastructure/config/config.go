// Package config loads application configuration from a YAML file with
// DAYBRIEF_-prefixed environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	sharedConfig "github.com/daybrief/daybrief/internal/shared/config"
)

type Config struct {
	Server      sharedConfig.ServerConfig      `mapstructure:"server"`
	Database    sharedConfig.DatabaseConfig    `mapstructure:"database"`
	Logger      sharedConfig.LoggerConfig      `mapstructure:"logger"`
	Auth        sharedConfig.AuthConfig        `mapstructure:"auth"`
	Redis       sharedConfig.RedisConfig       `mapstructure:"redis"`
	Entitlement sharedConfig.EntitlementConfig `mapstructure:"entitlement"`
	StoreBridge sharedConfig.StoreBridgeConfig `mapstructure:"store_bridge"`
	Ledger      sharedConfig.LedgerConfig      `mapstructure:"ledger"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables
func Load(env string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")
	viper.AddConfigPath("../../configs")

	viper.SetEnvPrefix("DAYBRIEF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing file is fine: defaults plus environment variables carry a
		// full configuration.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if env != "" && env != "default" {
		viper.Set("server.mode", env)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.rate_limit_per_minute", 120)

	// Database defaults
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "root")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "daybrief_dev")
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.conn_max_lifetime", 60)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.output_path", "stdout")

	// Auth defaults
	viper.SetDefault("auth.jwt.secret", "change-me-in-production")
	viper.SetDefault("auth.jwt.issuer", "daybrief")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Entitlement reconciliation policy. The staleness window bounds how long
	// a positive cached verdict may be served; negative verdicts always
	// re-query. Values are policy, not contract.
	viper.SetDefault("entitlement.staleness_window_hours", 24)
	viper.SetDefault("entitlement.refresh_margin_minutes", 60)
	viper.SetDefault("entitlement.products", []map[string]any{
		{"id": "premium.unlimited", "tier": "unlimited"},
		{"id": "premium.monthly", "tier": "time_limited"},
		{"id": "premium.yearly", "tier": "time_limited"},
	})

	// Store bridge defaults
	viper.SetDefault("store_bridge.base_url", "http://localhost:8090")
	viper.SetDefault("store_bridge.api_key", "")
	viper.SetDefault("store_bridge.timeout_seconds", 10)

	// Ledger defaults
	viper.SetDefault("ledger.timeout_seconds", 5)
}
