// Package config loads service configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all settings shared by the api, scheduler and migrate binaries.
type Config struct {
	Addr  string `mapstructure:"ESUSU_ADDR"`
	PGDSN string `mapstructure:"ESUSU_PG_DSN"`

	LogFormat string `mapstructure:"ESUSU_LOG_FORMAT"`
	LogLevel  string `mapstructure:"ESUSU_LOG_LEVEL"`

	JWTSecret string `mapstructure:"ESUSU_JWT_SECRET"`

	HashSalt      string `mapstructure:"ESUSU_HASH_SALT"`
	HashMinLength int    `mapstructure:"ESUSU_HASH_MIN_LENGTH"`

	CollectWorkers       int `mapstructure:"ESUSU_COLLECT_WORKERS"`
	ChargeTimeoutSeconds int `mapstructure:"ESUSU_CHARGE_TIMEOUT_SECONDS"`
	ChargeRatePerSecond  int `mapstructure:"ESUSU_CHARGE_RATE_PER_SECOND"`

	PromotionSchedule  string `mapstructure:"ESUSU_PROMOTION_SCHEDULE"`
	CollectionSchedule string `mapstructure:"ESUSU_COLLECTION_SCHEDULE"`
}

// Load reads configuration from the environment. A missing .env file is not
// an error; a missing JWT secret or hash salt is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetDefault("ESUSU_ADDR", ":8080")
	viper.SetDefault("ESUSU_LOG_FORMAT", "text")
	viper.SetDefault("ESUSU_LOG_LEVEL", "info")
	viper.SetDefault("ESUSU_HASH_MIN_LENGTH", 11)
	viper.SetDefault("ESUSU_COLLECT_WORKERS", 8)
	viper.SetDefault("ESUSU_CHARGE_TIMEOUT_SECONDS", 10)
	viper.SetDefault("ESUSU_CHARGE_RATE_PER_SECOND", 0) // 0 disables the limiter
	viper.SetDefault("ESUSU_PROMOTION_SCHEDULE", "0 * * * *")
	viper.SetDefault("ESUSU_COLLECTION_SCHEDULE", "0 1 * * *")
	viper.AutomaticEnv()

	// Bind environment variables explicitly so they appear in Unmarshal.
	for _, key := range []string{
		"ESUSU_ADDR", "ESUSU_PG_DSN",
		"ESUSU_LOG_FORMAT", "ESUSU_LOG_LEVEL",
		"ESUSU_JWT_SECRET", "ESUSU_HASH_SALT", "ESUSU_HASH_MIN_LENGTH",
		"ESUSU_COLLECT_WORKERS", "ESUSU_CHARGE_TIMEOUT_SECONDS", "ESUSU_CHARGE_RATE_PER_SECOND",
		"ESUSU_PROMOTION_SCHEDULE", "ESUSU_COLLECTION_SCHEDULE",
	} {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("ESUSU_JWT_SECRET is required")
	}
	if cfg.HashSalt == "" {
		return nil, fmt.Errorf("ESUSU_HASH_SALT is required")
	}
	return &cfg, nil
}
