package detection

import (
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted in configuration
const (
	BackendNone   = "none"
	BackendHTTP   = "http"
	BackendGRPC   = "grpc"
	BackendHosted = "hosted"
)

// LocatorConfig selects and configures a FaceLocator
type LocatorConfig struct {
	Backend       string
	Endpoint      string
	Margin        float64
	MinConfidence float64
	Timeout       time.Duration
}

// ClassifierConfig selects and configures an EmotionClassifier
type ClassifierConfig struct {
	Backend      string
	Endpoint     string
	Model        string
	APIToken     string
	MinInputSize int
	InputSize    int
	Timeout      time.Duration
}

// NewFaceLocator creates the configured face locator
func NewFaceLocator(config LocatorConfig, logger *slog.Logger) (FaceLocator, error) {
	switch config.Backend {
	case "", BackendNone:
		return NoFaceLocator{}, nil
	case BackendHTTP:
		if config.Endpoint == "" {
			return nil, fmt.Errorf("face locator %q requires an endpoint", config.Backend)
		}
		return NewHTTPFaceLocator(HTTPFaceLocatorConfig{
			Endpoint:      config.Endpoint,
			Margin:        config.Margin,
			MinConfidence: config.MinConfidence,
			Timeout:       config.Timeout,
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown face locator backend: %s", config.Backend)
	}
}

// NewClassifier creates the configured classifier, wrapped with the call timeout
func NewClassifier(config ClassifierConfig, logger *slog.Logger) (EmotionClassifier, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("classifier %q requires an endpoint", config.Backend)
	}

	var c EmotionClassifier
	switch config.Backend {
	case BackendGRPC:
		gc, err := NewGRPCClassifier(GRPCClassifierConfig{
			Endpoint:     config.Endpoint,
			MinInputSize: config.MinInputSize,
			InputSize:    config.InputSize,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		c = gc
	case BackendHosted:
		c = NewHostedClassifier(HostedClassifierConfig{
			Endpoint:     config.Endpoint,
			Model:        config.Model,
			APIToken:     config.APIToken,
			MinInputSize: config.MinInputSize,
			InputSize:    config.InputSize,
			Timeout:      config.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown classifier backend: %s", config.Backend)
	}
	return WithTimeout(c, config.Timeout), nil
}
