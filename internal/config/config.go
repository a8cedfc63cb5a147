// Package config loads server settings from the environment and an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port        int           `mapstructure:"port"`
	HostSecret  string        `mapstructure:"host_secret"`
	DataFile    string        `mapstructure:"data_file"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	TotalRounds int           `mapstructure:"total_rounds"`
	LotCap      int64         `mapstructure:"lot_cap"`
	StaticDir   string        `mapstructure:"static_dir"`
	LogLevel    string        `mapstructure:"log_level"`

	// Parsed from starting_cash.
	StartingCash decimal.Decimal `mapstructure:"-"`
}

// env maps each key to the variable that sets it.
var env = map[string]string{
	"port":          "PORT",
	"host_secret":   "ADMIN_PASSWORD",
	"data_file":     "DATA_FILE",
	"database_url":  "DATABASE_URL",
	"redis_url":     "REDIS_URL",
	"cache_ttl":     "CACHE_TTL",
	"total_rounds":  "TOTAL_ROUNDS",
	"starting_cash": "STARTING_CASH",
	"lot_cap":       "LOT_CAP",
	"static_dir":    "STATIC_DIR",
	"log_level":     "LOG_LEVEL",
}

// Load reads settings from the environment. When path is not empty the YAML
// file there is read first and environment variables override it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return Config{}, err
		}
	}
	v.SetDefault("port", 3000)
	v.SetDefault("host_secret", "admin123")
	v.SetDefault("data_file", "game-data.json")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", "1h")
	v.SetDefault("total_rounds", 5)
	v.SetDefault("starting_cash", "1000000")
	v.SetDefault("lot_cap", 100)
	v.SetDefault("static_dir", "")
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cash, err := decimal.NewFromString(v.GetString("starting_cash"))
	if err != nil {
		return Config{}, fmt.Errorf("config: starting_cash: %w", err)
	}
	cfg.StartingCash = cash

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: port %d out of range", c.Port))
	}
	if c.HostSecret == "" {
		errs = append(errs, errors.New("config: host_secret must not be empty"))
	}
	if c.TotalRounds < 1 {
		errs = append(errs, fmt.Errorf("config: total_rounds must be at least 1, got %d", c.TotalRounds))
	}
	if c.LotCap < 1 {
		errs = append(errs, fmt.Errorf("config: lot_cap must be at least 1, got %d", c.LotCap))
	}
	if !c.StartingCash.IsPositive() {
		errs = append(errs, fmt.Errorf("config: starting_cash must be positive, got %s", c.StartingCash))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
