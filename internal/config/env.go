package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "NEUROLENS_"

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("SERVER_ADDR", &cfg.Server.Addr)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.list("SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	e.integer("SESSION_HISTORY_CAPACITY", &cfg.Session.HistoryCapacity)
	e.duration("SESSION_MAX_AGE", &cfg.Session.MaxAge)
	e.duration("SESSION_SWEEP_INTERVAL", &cfg.Session.SweepInterval)

	e.str("NORMALIZER_POLICY", &cfg.Normalizer.Policy)

	e.str("FACE_LOCATOR_BACKEND", &cfg.FaceLocator.Backend)
	e.str("FACE_LOCATOR_ENDPOINT", &cfg.FaceLocator.Endpoint)
	e.float("FACE_LOCATOR_MARGIN", &cfg.FaceLocator.Margin)

	e.str("CLASSIFIER_BACKEND", &cfg.Classifier.Backend)
	e.str("CLASSIFIER_ENDPOINT", &cfg.Classifier.Endpoint)
	e.str("CLASSIFIER_MODEL", &cfg.Classifier.Model)
	e.str("CLASSIFIER_API_TOKEN", &cfg.Classifier.APIToken)
	e.duration("CLASSIFIER_TIMEOUT", &cfg.Classifier.Timeout)
	e.boolean("CLASSIFIER_WARM_UP", &cfg.Classifier.WarmUp)

	e.str("ARCHIVE_DRIVER", &cfg.Archive.Driver)
	e.str("ARCHIVE_PATH", &cfg.Archive.Path)
	e.str("ARCHIVE_REDIS_ADDR", &cfg.Archive.RedisAddr)
	e.str("ARCHIVE_POSTGRES_DSN", &cfg.Archive.PostgresDSN)

	e.boolean("MQTT_ENABLED", &cfg.MQTT.Enabled)
	e.str("MQTT_BROKER", &cfg.MQTT.Broker)
	e.str("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)

	e.boolean("AUTH_ENABLED", &cfg.Auth.Enabled)
	e.str("AUTH_USERNAME", &cfg.Auth.Username)
	e.str("AUTH_PASSWORD", &cfg.Auth.Password)
	e.str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	e.duration("AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	return e.err
}

// envReader applies overrides and keeps the first parse error
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		dst.Duration = d
	}
}
