// Package config loads the service configuration from a YAML file and
// NEUROLENS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Stream      StreamConfig      `yaml:"stream"`
	Session     SessionConfig     `yaml:"session"`
	Normalizer  NormalizerConfig  `yaml:"normalizer"`
	FaceLocator FaceLocatorConfig `yaml:"face_locator"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Archive     ArchiveConfig     `yaml:"archive"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"` // also restricts WebSocket origins
}

// StreamConfig contains WebSocket and frame decoding settings
type StreamConfig struct {
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	MaxImageBytes   int      `yaml:"max_image_bytes"`
	PongWait        Duration `yaml:"pong_wait"`
	PingInterval    Duration `yaml:"ping_interval"`
	WriteWait       Duration `yaml:"write_wait"`
}

// SessionConfig contains session store settings
type SessionConfig struct {
	HistoryCapacity int      `yaml:"history_capacity"`
	MaxAge          Duration `yaml:"max_age"`
	SweepInterval   Duration `yaml:"sweep_interval"`
}

// NormalizerConfig selects the accumulation policy and label mapping
type NormalizerConfig struct {
	Policy  string            `yaml:"policy"`  // max-take or sum-accumulate
	Mapping map[string]string `yaml:"mapping"` // raw label -> application label; empty uses the built-in table
}

// FaceLocatorConfig selects the face locator backend
type FaceLocatorConfig struct {
	Backend       string   `yaml:"backend"` // none, http
	Endpoint      string   `yaml:"endpoint"`
	Margin        float64  `yaml:"margin"`
	MinConfidence float64  `yaml:"min_confidence"`
	Timeout       Duration `yaml:"timeout"`
}

// ClassifierConfig selects the emotion classifier backend
type ClassifierConfig struct {
	Backend      string   `yaml:"backend"` // grpc, hosted
	Endpoint     string   `yaml:"endpoint"`
	Model        string   `yaml:"model"`
	APIToken     string   `yaml:"api_token"`
	MinInputSize int      `yaml:"min_input_size"`
	InputSize    int      `yaml:"input_size"`
	Timeout      Duration `yaml:"timeout"` // 0 disables the call timeout
	WarmUp       bool     `yaml:"warm_up"`
}

// ArchiveConfig selects where removed sessions are persisted
type ArchiveConfig struct {
	Driver      string   `yaml:"driver"` // none, memory, sqlite, redis, postgres
	Path        string   `yaml:"path"`
	RedisAddr   string   `yaml:"redis_addr"`
	RedisDB     int      `yaml:"redis_db"`
	RedisTTL    Duration `yaml:"redis_ttl"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	QueueSize   int      `yaml:"queue_size"`
}

// MQTTConfig contains the result emitter settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// AuthConfig guards the mutating query routes
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"` // plaintext or bcrypt hash
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// LogConfig configures slog
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Duration is a time.Duration written as a string ("30s", "1h") in YAML
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}

	if c.Stream.MaxMessageBytes == 0 {
		c.Stream.MaxMessageBytes = 16 << 20
	}
	if c.Stream.MaxImageBytes == 0 {
		c.Stream.MaxImageBytes = 8 << 20
	}
	if c.Stream.PongWait.Duration == 0 {
		c.Stream.PongWait.Duration = 60 * time.Second
	}
	if c.Stream.PingInterval.Duration == 0 {
		c.Stream.PingInterval.Duration = 30 * time.Second
	}
	if c.Stream.WriteWait.Duration == 0 {
		c.Stream.WriteWait.Duration = 10 * time.Second
	}

	if c.Session.HistoryCapacity == 0 {
		c.Session.HistoryCapacity = 500
	}
	if c.Session.MaxAge.Duration == 0 {
		c.Session.MaxAge.Duration = time.Hour
	}
	if c.Session.SweepInterval.Duration == 0 {
		c.Session.SweepInterval.Duration = time.Hour
	}

	if c.Normalizer.Policy == "" {
		c.Normalizer.Policy = "max-take"
	}

	if c.FaceLocator.Backend == "" {
		c.FaceLocator.Backend = "none"
	}
	if c.FaceLocator.Margin == 0 {
		c.FaceLocator.Margin = 0.5
	}
	if c.FaceLocator.Timeout.Duration == 0 {
		c.FaceLocator.Timeout.Duration = 5 * time.Second
	}

	if c.Classifier.Backend == "" {
		c.Classifier.Backend = "grpc"
	}
	if c.Classifier.Endpoint == "" && c.Classifier.Backend == "grpc" {
		c.Classifier.Endpoint = "localhost:50051"
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "trpakov/vit-face-expression"
	}
	if c.Classifier.MinInputSize == 0 {
		c.Classifier.MinInputSize = 64
	}
	if c.Classifier.InputSize == 0 {
		c.Classifier.InputSize = 224
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = "none"
	}
	if c.Archive.Path == "" {
		c.Archive.Path = "neurolens.db"
	}
	if c.Archive.QueueSize == 0 {
		c.Archive.QueueSize = 256
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "neurolens"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "neurolens/emotions"
	}

	if c.Auth.Username == "" {
		c.Auth.Username = "admin"
	}
	if c.Auth.TokenTTL.Duration == 0 {
		c.Auth.TokenTTL.Duration = 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
