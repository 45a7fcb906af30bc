package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"neurolens/internal/emotion"
	"neurolens/internal/imagecodec"
)

const (
	// EmotionServiceName is the gRPC service exposed by the model sidecar
	EmotionServiceName = "neurolens.emotion.v1.EmotionService"
	// ClassifyMethod takes JPEG bytes (BytesValue) and returns a Struct with a
	// "predictions" list of {label, score} objects.
	ClassifyMethod = "/" + EmotionServiceName + "/Classify"
)

// GRPCClassifier runs classification on a model sidecar over gRPC
type GRPCClassifier struct {
	endpoint     string
	conn         *grpc.ClientConn
	health       healthpb.HealthClient
	minInputSize int
	inputSize    int
	logger       *slog.Logger

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// GRPCClassifierConfig holds configuration for the gRPC classifier
type GRPCClassifierConfig struct {
	Endpoint     string
	MinInputSize int
	InputSize    int
	Logger       *slog.Logger
	DialOptions  []grpc.DialOption
}

// NewGRPCClassifier creates a client for the model sidecar. The connection is
// established lazily on the first call.
func NewGRPCClassifier(config GRPCClassifierConfig) (*GRPCClassifier, error) {
	minSize := config.MinInputSize
	if minSize <= 0 {
		minSize = DefaultMinInputSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	gc := &GRPCClassifier{
		endpoint:     config.Endpoint,
		conn:         conn,
		health:       healthpb.NewHealthClient(conn),
		minInputSize: minSize,
		inputSize:    config.InputSize,
		logger:       logger.With("component", "grpc_classifier"),
	}
	gc.logger.Info("classifier client created", "endpoint", config.Endpoint)
	return gc, nil
}

func (gc *GRPCClassifier) Name() string {
	return "grpc"
}

// Classify implements EmotionClassifier
func (gc *GRPCClassifier) Classify(ctx context.Context, img image.Image) ([]emotion.Score, error) {
	if img == nil || imagecodec.MinSide(img) < gc.minInputSize {
		return nil, nil
	}

	data, err := imagecodec.EncodeJPEG(imagecodec.Resize(img, gc.inputSize), 90)
	if err != nil {
		return nil, classificationError(gc.Name(), err)
	}

	resp := new(structpb.Struct)
	if err := gc.conn.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(data), resp); err != nil {
		return nil, classificationError(gc.Name(), err)
	}
	return scoresFromStruct(resp), nil
}

// CheckHealth uses the standard gRPC health protocol
func (gc *GRPCClassifier) CheckHealth(ctx context.Context) error {
	resp, err := gc.health.Check(ctx, &healthpb.HealthCheckRequest{Service: EmotionServiceName})

	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	gc.healthMu.Lock()
	gc.healthy = healthy
	gc.lastHealth = time.Now()
	gc.healthMu.Unlock()

	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("service not serving: %s", resp.GetStatus())
	}
	return nil
}

// IsHealthy returns the result of the last health check
func (gc *GRPCClassifier) IsHealthy() bool {
	gc.healthMu.RLock()
	defer gc.healthMu.RUnlock()
	return gc.healthy
}

// Close releases the connection
func (gc *GRPCClassifier) Close() error {
	return gc.conn.Close()
}

func scoresFromStruct(s *structpb.Struct) []emotion.Score {
	list := s.GetFields()["predictions"].GetListValue().GetValues()
	scores := make([]emotion.Score, 0, len(list))
	for _, v := range list {
		fields := v.GetStructValue().GetFields()
		label := fields["label"].GetStringValue()
		if label == "" {
			continue
		}
		scores = append(scores, emotion.Score{Label: label, Score: fields["score"].GetNumberValue()})
	}
	return scores
}
