package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"neurolens/internal/imagecodec"
)

// HTTPFaceLocator detects faces through a remote detection service
type HTTPFaceLocator struct {
	endpoint      string
	client        *http.Client
	margin        float64
	minConfidence float64
	logger        *slog.Logger

	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// HTTPFaceLocatorConfig holds configuration for the face detection service
type HTTPFaceLocatorConfig struct {
	Endpoint      string
	Margin        float64
	MinConfidence float64
	Timeout       time.Duration
	Logger        *slog.Logger
}

// faceDetection is one face returned by the detection service.
// BBox is [x1, y1, x2, y2] in pixels.
type faceDetection struct {
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
}

type faceDetectResult struct {
	Faces           []faceDetection `json:"faces"`
	Count           int             `json:"count"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

type locatorHealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewHTTPFaceLocator creates a new face detection client
func NewHTTPFaceLocator(config HTTPFaceLocatorConfig) *HTTPFaceLocator {
	margin := config.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFaceLocator{
		endpoint:      config.Endpoint,
		margin:        margin,
		minConfidence: config.MinConfidence,
		logger:        logger.With("component", "face_locator"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Locate implements FaceLocator
func (l *HTTPFaceLocator) Locate(ctx context.Context, img image.Image) (*Region, error) {
	data, err := imagecodec.EncodeJPEG(img, 90)
	if err != nil {
		return nil, err
	}

	body, err := l.sendImageRequest(ctx, l.endpoint+"/detect", data)
	if err != nil {
		return nil, err
	}

	var result faceDetectResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	best := -1
	for i, f := range result.Faces {
		if len(f.BBox) != 4 || f.Confidence < l.minConfidence {
			continue
		}
		if best < 0 || f.Confidence > result.Faces[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	face := result.Faces[best]
	bounds := img.Bounds()
	box := image.Rect(
		bounds.Min.X+int(face.BBox[0]), bounds.Min.Y+int(face.BBox[1]),
		bounds.Min.X+int(face.BBox[2]), bounds.Min.Y+int(face.BBox[3]),
	)
	region := ExpandBox(box, bounds, l.margin)
	crop := imagecodec.Crop(img, region)
	if crop == nil {
		return nil, nil
	}

	l.logger.Debug("face located",
		"confidence", face.Confidence,
		"faces", len(result.Faces),
		"inference_ms", result.InferenceTimeMs)

	return &Region{Bounds: region, Confidence: face.Confidence, Image: crop}, nil
}

// IsHealthy returns the result of the last health check
func (l *HTTPFaceLocator) IsHealthy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.healthy
}

// CheckHealth checks if the face detection service is available
func (l *HTTPFaceLocator) CheckHealth(ctx context.Context) error {
	healthy, err := l.probe(ctx)

	l.mu.Lock()
	l.healthy = healthy
	l.lastHealth = time.Now()
	l.mu.Unlock()

	return err
}

func (l *HTTPFaceLocator) probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health locatorHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded {
		return false, fmt.Errorf("service unhealthy: status=%s, model_loaded=%v", health.Status, health.ModelLoaded)
	}
	return true, nil
}

// sendImageRequest posts an image as multipart form data
func (l *HTTPFaceLocator) sendImageRequest(ctx context.Context, url string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
