// Package detection holds the face-locating and emotion-classifying backends.
// Both are external collaborators: the service only depends on the
// FaceLocator and EmotionClassifier interfaces.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"neurolens/internal/emotion"
)

// ErrClassification wraps failures of the underlying model backend
var ErrClassification = errors.New("classification failed")

// DefaultMargin expands a detected face box by 50% on each side
const DefaultMargin = 0.5

// Region is a located face, already expanded and cropped
type Region struct {
	Bounds     image.Rectangle
	Confidence float64
	Image      image.Image
}

// FaceLocator finds the most confident face in an image.
// A nil region with a nil error means no face was found.
type FaceLocator interface {
	Locate(ctx context.Context, img image.Image) (*Region, error)
}

// EmotionClassifier returns raw label scores from whatever model is configured.
// Unsuitable input (e.g. too small) yields empty scores, not an error.
type EmotionClassifier interface {
	Name() string
	Classify(ctx context.Context, img image.Image) ([]emotion.Score, error)
}

// HealthChecker is implemented by backends that can report readiness
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// NoFaceLocator never finds a face, so classification always runs on the full frame
type NoFaceLocator struct{}

func (NoFaceLocator) Locate(ctx context.Context, img image.Image) (*Region, error) {
	return nil, nil
}

// ExpandBox grows box by margin times its size on every side and clips it to bounds
func ExpandBox(box, bounds image.Rectangle, margin float64) image.Rectangle {
	mx := int(margin * float64(box.Dx()))
	my := int(margin * float64(box.Dy()))
	grown := image.Rect(box.Min.X-mx, box.Min.Y-my, box.Max.X+mx, box.Max.Y+my)
	return grown.Intersect(bounds)
}

type timeoutClassifier struct {
	EmotionClassifier
	timeout time.Duration
}

// WithTimeout bounds every Classify call. A non-positive timeout returns c unchanged.
func WithTimeout(c EmotionClassifier, timeout time.Duration) EmotionClassifier {
	if timeout <= 0 {
		return c
	}
	return &timeoutClassifier{EmotionClassifier: c, timeout: timeout}
}

func (t *timeoutClassifier) Classify(ctx context.Context, img image.Image) ([]emotion.Score, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.EmotionClassifier.Classify(ctx, img)
}

func (t *timeoutClassifier) CheckHealth(ctx context.Context) error {
	if hc, ok := t.EmotionClassifier.(HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

// WarmUp runs one classification on a mid-gray frame so the backend loads its model
func WarmUp(ctx context.Context, c EmotionClassifier, img image.Image) error {
	if _, err := c.Classify(ctx, img); err != nil {
		return fmt.Errorf("warm-up %s: %w", c.Name(), err)
	}
	return nil
}

func classificationError(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrClassification, backend, err)
}

// Close releases backend resources, looking through the timeout decorator
func Close(c EmotionClassifier) error {
	if t, ok := c.(*timeoutClassifier); ok {
		c = t.EmotionClassifier
	}
	if cl, ok := c.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
