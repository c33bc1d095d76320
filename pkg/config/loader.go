package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.yaml"
	PathEnv     = "CONFIG_PATH"
)

// Path returns CONFIG_PATH or the default file name.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load builds the configuration in order: defaults, the YAML file at path
// (a missing file is not an error), environment overrides. The result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfiguration, path, err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	overrides := map[string]*string{
		"BOT_TOKEN":      &cfg.Bot.Token,
		"GEMINI_API_KEY": &cfg.Gemini.APIKey,
		"GEMINI_MODEL":   &cfg.Gemini.Model,
		"DATABASE_URL":   &cfg.Database.URL,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
		"HTTP_ADDR":      &cfg.HTTP.Addr,
		"HTTP_TOKEN":     &cfg.HTTP.Token,
		"TIMEZONE":       &cfg.Timezone,
	}
	for key, dst := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("DAILY_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: DAILY_LIMIT %q: %w", ErrConfiguration, v, err)
		}
		cfg.Quota.DailyLimit = n
	}
	return nil
}
