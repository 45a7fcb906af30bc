package config

import (
	"errors"
	"fmt"
	"strings"

	"neurolens/internal/emotion"
)

// Validate checks the configuration for consistency. Defaults must already
// be applied.
func Validate(cfg *Config) error {
	if cfg.Session.HistoryCapacity < 1 {
		return errors.New("session.history_capacity must be > 0")
	}
	if cfg.Session.MaxAge.Duration <= 0 {
		return errors.New("session.max_age must be > 0")
	}
	if cfg.Session.SweepInterval.Duration <= 0 {
		return errors.New("session.sweep_interval must be > 0")
	}

	if _, err := emotion.ParsePolicy(cfg.Normalizer.Policy); err != nil {
		return fmt.Errorf("normalizer.policy: %w", err)
	}
	for raw, label := range cfg.Normalizer.Mapping {
		if _, ok := emotion.ParseLabel(label); !ok {
			return fmt.Errorf("normalizer.mapping[%s]: unknown label %q", raw, label)
		}
	}

	switch cfg.FaceLocator.Backend {
	case "none":
	case "http":
		if cfg.FaceLocator.Endpoint == "" {
			return errors.New("face_locator.endpoint is required for the http backend")
		}
	default:
		return fmt.Errorf("face_locator.backend: unknown backend %q", cfg.FaceLocator.Backend)
	}
	if cfg.FaceLocator.Margin < 0 || cfg.FaceLocator.Margin > 1 {
		return errors.New("face_locator.margin must be within [0, 1]")
	}

	switch cfg.Classifier.Backend {
	case "grpc", "hosted":
	default:
		return fmt.Errorf("classifier.backend: unknown backend %q", cfg.Classifier.Backend)
	}
	if cfg.Classifier.Endpoint == "" {
		return errors.New("classifier.endpoint is required")
	}
	if cfg.Classifier.Timeout.Duration < 0 {
		return errors.New("classifier.timeout must not be negative")
	}

	switch cfg.Archive.Driver {
	case "none", "memory", "sqlite":
	case "redis":
		if cfg.Archive.RedisAddr == "" {
			return errors.New("archive.redis_addr is required for the redis driver")
		}
	case "postgres":
		if cfg.Archive.PostgresDSN == "" {
			return errors.New("archive.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("archive.driver: unknown driver %q", cfg.Archive.Driver)
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}

	if cfg.Auth.Enabled && cfg.Auth.Password == "" {
		return errors.New("auth.password is required when auth is enabled")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}

	return nil
}

// Build creates the configured normalizer
func (c NormalizerConfig) Build() (*emotion.Normalizer, error) {
	policy, err := emotion.ParsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}
	if len(c.Mapping) == 0 {
		return emotion.NewNormalizer(policy, nil), nil
	}

	mapping := make(map[string]emotion.Label, len(c.Mapping))
	for raw, name := range c.Mapping {
		label, ok := emotion.ParseLabel(name)
		if !ok {
			return nil, fmt.Errorf("unknown label %q for %q", name, raw)
		}
		mapping[raw] = label
	}
	return emotion.NewNormalizer(policy, mapping), nil
}
