package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env    string `mapstructure:"env"`
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	JWT struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"jwt"`
	Retry struct {
		Attempts  int           `mapstructure:"attempts"`
		BaseDelay time.Duration `mapstructure:"base_delay"`
	} `mapstructure:"retry"`
	Interest struct {
		Rate      string        `mapstructure:"rate"`
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
	} `mapstructure:"interest"`
	Intent struct {
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"intent"`
}

// InterestRate parses the configured rate into an exact decimal.
func (c *Config) InterestRate() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Interest.Rate)
}

func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("COREBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", 200*time.Millisecond)
	v.SetDefault("interest.rate", "0.0001")
	v.SetDefault("interest.interval", 2*time.Minute)
	v.SetDefault("interest.batch_size", 100)
	v.SetDefault("intent.ttl", 24*time.Hour)
	v.SetDefault("intent.sweep_interval", 10*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; env vars and defaults cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn (COREBANK_DB_DSN) is required")
	}
	if _, err := cfg.InterestRate(); err != nil {
		return nil, fmt.Errorf("invalid interest.rate %q: %w", cfg.Interest.Rate, err)
	}

	return &cfg, nil
}
