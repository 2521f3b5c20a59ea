// Package config loads client settings from defaults, an optional YAML file
// and SCL_-prefixed environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file settings.
const EnvPrefix = "SCL_"

// Config is the full configuration of the sclclient process.
type Config struct {
	Client  ClientConfig  `koanf:"client"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
	Auth    AuthConfig    `koanf:"auth"`
}

// ClientConfig controls the connection lifecycle and inbound pipeline.
type ClientConfig struct {
	// Endpoints are tried in order; there is no default.
	Endpoints []string `koanf:"endpoints"`
	// Local marks the endpoints as on this machine: retries never run out.
	Local bool `koanf:"local"`
	// MaxAttempts is the number of full passes over Endpoints before giving up (remote only).
	MaxAttempts int `koanf:"max_attempts"`
	// AttemptTimeout bounds a single connection attempt.
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	// RetryDelay is waited after every failed attempt.
	RetryDelay time.Duration `koanf:"retry_delay"`
	// MaxConcurrentDecodes bounds decode goroutines.
	MaxConcurrentDecodes int `koanf:"max_concurrent_decodes"`
	// MaxPending is the soft limit on undelivered inbound messages.
	MaxPending int `koanf:"max_pending"`
	// Codec is "json" or "raw".
	Codec string `koanf:"codec"`
}

// LoggingConfig selects level and format for logger.NewLogger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

// AuthConfig signs a bearer token into the WebSocket handshake.
// Leaving Secret empty sends no Authorization header.
type AuthConfig struct {
	ClientID string `koanf:"client_id"`
	Secret   string `koanf:"secret"`
}

var (
	ErrNoEndpoints    = errors.New("client.endpoints must list at least one endpoint")
	ErrInvalidTimeout = errors.New("client.attempt_timeout and client.retry_delay must be positive")
	ErrUnknownCodec   = errors.New("client.codec must be json or raw")
)

// Validate checks the settings a client can't run without.
func (c *Config) Validate() error {
	if len(c.Client.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Client.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("client.endpoints[%d] is empty", i)
		}
	}
	if c.Client.AttemptTimeout <= 0 || c.Client.RetryDelay <= 0 {
		return ErrInvalidTimeout
	}
	switch c.Client.Codec {
	case "json", "raw":
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownCodec, c.Client.Codec)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New("metrics.address required when metrics are enabled")
	}
	if c.Auth.Secret != "" && c.Auth.ClientID == "" {
		return errors.New("auth.client_id required when auth.secret is set")
	}
	return nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"client.local":                  false,
		"client.max_attempts":           5,
		"client.attempt_timeout":        "10s",
		"client.retry_delay":            "500ms",
		"client.max_concurrent_decodes": 8,
		"client.max_pending":            256,
		"client.codec":                  "json",
		"logging.level":                 "info",
		"logging.format":                "text",
		"metrics.enabled":               false,
		"metrics.address":               ":9464",
	}
}

// Load reads configuration. configPath may be empty or point at a missing
// file, in which case only defaults and environment apply. overrides, keyed
// like "client.endpoints", take precedence over everything else; the CLI
// passes its flags here.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access config file %s: %w", configPath, err)
		}
	}

	// SCL_ENDPOINTS=ws://a,ws://b     -> client.endpoints
	// SCL_CLIENT_RETRY__DELAY=1s       -> client.retry_delay
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable name to a config key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	switch s {
	case "endpoints":
		return "client.endpoints"
	case "local":
		return "client.local"
	case "log_level":
		return "logging.level"
	default:
		// "__" is a literal underscore, "_" separates levels
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
	}
}
