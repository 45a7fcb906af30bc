// Package emitter forwards recorded emotion results to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"neurolens/internal/events"
)

var ErrNotConnected = errors.New("mqtt not connected")

// Config configures the MQTT emitter
type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// MQTTEmitter publishes frame results as JSON to {prefix}/{session_id}
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// Option configures an MQTTEmitter
type Option func(*MQTTEmitter)

// WithClient uses an existing client instead of dialing the broker
func WithClient(c mqtt.Client) Option {
	return func(e *MQTTEmitter) { e.client = c }
}

// WithLogger sets the emitter logger
func WithLogger(l *slog.Logger) Option {
	return func(e *MQTTEmitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewMQTTEmitter creates an emitter; call Connect before publishing
func NewMQTTEmitter(cfg Config, opts ...Option) *MQTTEmitter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")

	e := &MQTTEmitter{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "mqtt")
	return e
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client reconnects on its
// own after later connection losses.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	if e.client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(brokerURL(e.cfg.Broker))
		opts.SetClientID(e.cfg.ClientID)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(2 * time.Second)
		opts.SetMaxReconnectInterval(30 * time.Second)
		opts.OnConnect = func(mqtt.Client) {
			e.setConnected(true)
			e.logger.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
		}
		opts.OnConnectionLost = func(_ mqtt.Client, err error) {
			e.setConnected(false)
			e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", e.cfg.Broker)
		}
		e.client = mqtt.NewClient(opts)
	}

	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	timeout := e.cfg.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Topic returns the topic a session's results are published to
func (e *MQTTEmitter) Topic(sessionID string) string {
	return e.cfg.TopicPrefix + "/" + sessionID
}

// Publish sends one recorded frame result
func (e *MQTTEmitter) Publish(ev *events.FrameRecorded) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	topic := e.Topic(ev.SessionID)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debug("result published", "topic", topic, "qos", e.cfg.QoS, "size", len(payload))
	return nil
}

// Run publishes events from ch until it closes or ctx is done. Failures are
// logged and counted; they never stop the loop.
func (e *MQTTEmitter) Run(ctx context.Context, ch <-chan *events.FrameRecorded) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := e.Publish(ev); err != nil {
				e.logger.Warn("publish failed", "session_id", ev.SessionID, "error", err)
			}
		}
	}
}

// Disconnect closes the broker connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
