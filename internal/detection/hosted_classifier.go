package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"neurolens/internal/emotion"
	"neurolens/internal/imagecodec"
)

// DefaultMinInputSize is the smallest image side sent to a classifier
const DefaultMinInputSize = 64

// HostedClassifier delegates classification to a hosted-model inference API.
// The API receives raw JPEG bytes and answers with [{"label":..,"score":..}].
type HostedClassifier struct {
	endpoint     string
	model        string
	token        string
	minInputSize int
	inputSize    int
	client       *http.Client
}

// HostedClassifierConfig holds configuration for the hosted inference API
type HostedClassifierConfig struct {
	Endpoint     string
	Model        string
	APIToken     string
	MinInputSize int
	InputSize    int
	Timeout      time.Duration
}

// NewHostedClassifier creates a new hosted-model client
func NewHostedClassifier(config HostedClassifierConfig) *HostedClassifier {
	minSize := config.MinInputSize
	if minSize <= 0 {
		minSize = DefaultMinInputSize
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HostedClassifier{
		endpoint:     strings.TrimRight(config.Endpoint, "/"),
		model:        config.Model,
		token:        config.APIToken,
		minInputSize: minSize,
		inputSize:    config.InputSize,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HostedClassifier) Name() string {
	return "hosted"
}

func (c *HostedClassifier) url() string {
	if c.model == "" {
		return c.endpoint
	}
	return c.endpoint + "/models/" + c.model
}

// Classify implements EmotionClassifier
func (c *HostedClassifier) Classify(ctx context.Context, img image.Image) ([]emotion.Score, error) {
	if img == nil || imagecodec.MinSide(img) < c.minInputSize {
		return nil, nil
	}

	data, err := imagecodec.EncodeJPEG(imagecodec.Resize(img, c.inputSize), 90)
	if err != nil {
		return nil, classificationError(c.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(data))
	if err != nil {
		return nil, classificationError(c.Name(), err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classificationError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classificationError(c.Name(), fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classificationError(c.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	scores, err := parseHostedScores(body)
	if err != nil {
		return nil, classificationError(c.Name(), err)
	}
	return scores, nil
}

// CheckHealth probes the model endpoint
func (c *HostedClassifier) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// parseHostedScores accepts a flat list of scores or a list of lists
// (batched responses) and an {"error": ...} object.
func parseHostedScores(body []byte) ([]emotion.Score, error) {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("inference API error: %s", apiErr.Error)
	}

	var flat []emotion.Score
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}

	var nested [][]emotion.Score
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nested[0], nil
}
