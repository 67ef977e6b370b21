package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. Nested keys are separated by a
// double underscore, e.g. NAV_GUIDANCE__OFF_ROUTE_METERS=100.
const EnvPrefix = "NAV_"

// Load reads configuration from path (optional, YAML) then environment
// overrides, on top of DefaultConfig, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := DefaultConfig()

	// Configured lists replace the defaults rather than merging into them
	for key, list := range map[string]*[]string{
		"directions.providers":   &cfg.Directions.Providers,
		"telemetry.sinks":        &cfg.Telemetry.Sinks,
		"server.allowed_origins": &cfg.Server.AllowedOrigins,
	} {
		if k.Exists(key) {
			*list = nil
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Directions.Providers = splitList(cfg.Directions.Providers)
	cfg.Telemetry.Sinks = splitList(cfg.Telemetry.Sinks)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the settings each enabled component needs
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if slices.Contains(c.Directions.Providers, "google") && c.Directions.Google.APIKey == "" {
		return errors.New("invalid config: directions.google.api_key is required when the google provider is enabled")
	}
	if slices.Contains(c.Telemetry.Sinks, "questdb") && c.Telemetry.QuestDB.Address == "" {
		return errors.New("invalid config: telemetry.questdb.address is required when the questdb sink is enabled")
	}
	if slices.Contains(c.Telemetry.Sinks, "rabbitmq") && c.Telemetry.RabbitMQ.URL == "" {
		return errors.New("invalid config: telemetry.rabbitmq.url is required when the rabbitmq sink is enabled")
	}
	return nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// splitList accepts both YAML lists and comma separated env values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
