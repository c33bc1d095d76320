// Package config loads the bot configuration from an optional YAML file,
// applies defaults and environment overrides, then validates the result.
package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
)

// ErrConfiguration wraps every load or validation failure.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Session  SessionConfig  `yaml:"session"`
	Quota    QuotaConfig    `yaml:"quota"`
	AI       AIConfig       `yaml:"ai"`
	Timezone string         `yaml:"timezone" validate:"required"`
}

type BotConfig struct {
	Token       string `yaml:"token"        validate:"required"`
	PollTimeout int    `yaml:"poll_timeout" validate:"min=1,max=600"`
}

type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"     validate:"required"`
	Model       string        `yaml:"model"       validate:"required"`
	Temperature float32       `yaml:"temperature" validate:"min=0,max=2"`
	MaxRetries  int           `yaml:"max_retries" validate:"min=0,max=10"`
	RetryDelay  time.Duration `yaml:"retry_delay" validate:"min=0,max=1m"`
}

type DatabaseConfig struct {
	// URL is a postgres DSN or a SQLite file path.
	URL string `yaml:"url" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level"  validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// HTTPConfig controls the read-only API. An empty Addr disables it.
type HTTPConfig struct {
	Addr  string `yaml:"addr"  validate:"omitempty,hostname_port"`
	Token string `yaml:"token" validate:"required_with=Addr"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"       validate:"min=1m"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=1s"`
}

type QuotaConfig struct {
	DailyLimit int `yaml:"daily_limit" validate:"min=1,max=1000"`
}

type AIConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"min=1s,max=10m"`
}

func setDefaults(cfg *Config) {
	cfg.Bot.PollTimeout = 60

	cfg.Gemini.Model = "gemini-2.0-flash"
	cfg.Gemini.Temperature = 0.7
	cfg.Gemini.MaxRetries = 3
	cfg.Gemini.RetryDelay = 2 * time.Second

	cfg.Database.URL = "doctor_ai.db"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Session.IdleTTL = 24 * time.Hour
	cfg.Session.SweepInterval = 10 * time.Minute

	cfg.Quota.DailyLimit = 10
	cfg.AI.Timeout = 5 * time.Minute
	cfg.Timezone = "Asia/Tashkent"
}

// Validate checks struct constraints and that Timezone names a known zone.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrConfiguration)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrConfiguration, c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone. It falls back to UTC only if Validate was
// skipped and the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
