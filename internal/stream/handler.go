// Package stream turns inbound frame events into emotion events, recording
// every successful result in the session store.
package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"neurolens/internal/detection"
	"neurolens/internal/emotion"
	"neurolens/internal/events"
	"neurolens/internal/imagecodec"
	"neurolens/internal/session"
)

// Config wires a Handler to its collaborators. Codec, Normalizer and Locator
// default when nil; Classifier and Store are required.
type Config struct {
	Codec      *imagecodec.Codec
	Locator    detection.FaceLocator
	Classifier detection.EmotionClassifier
	Normalizer *emotion.Normalizer
	Store      *session.Store
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Stats counts frames by outcome
type Stats struct {
	Processed int64 `json:"frames_processed"`
	Failed    int64 `json:"frames_failed"`
	Rejected  int64 `json:"frames_rejected"`
}

// Handler runs the per-frame pipeline. It holds no per-connection state;
// callers must feed one connection's frames sequentially.
type Handler struct {
	codec      *imagecodec.Codec
	locator    detection.FaceLocator
	classifier detection.EmotionClassifier
	normalizer *emotion.Normalizer
	store      *session.Store
	bus        *events.Bus
	logger     *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewHandler creates a frame handler
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("stream handler requires a classifier")
	}
	if cfg.Store == nil {
		return nil, errors.New("stream handler requires a session store")
	}

	h := &Handler{
		codec:      cfg.Codec,
		locator:    cfg.Locator,
		classifier: cfg.Classifier,
		normalizer: cfg.Normalizer,
		store:      cfg.Store,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
	}
	if h.codec == nil {
		h.codec = imagecodec.New()
	}
	if h.locator == nil {
		h.locator = detection.NoFaceLocator{}
	}
	if h.normalizer == nil {
		h.normalizer = emotion.NewNormalizer(emotion.PolicyMax, nil)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "stream")
	return h, nil
}

// Stats returns the frame counters
func (h *Handler) Stats() Stats {
	return Stats{
		Processed: h.processed.Load(),
		Failed:    h.failed.Load(),
		Rejected:  h.rejected.Load(),
	}
}

// Handle processes one frame from connectionID. It always returns an event:
// any failure, including a panic in a collaborator, yields the degenerate
// emission annotated with the error.
func (h *Handler) Handle(ctx context.Context, connectionID string, ev FrameEvent) (out EmotionEvent) {
	if err := ev.Validate(); err != nil {
		h.rejected.Add(1)
		h.logger.Debug("frame rejected", "connection_id", connectionID, "error", err)
		return Degenerate(ev, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			h.failed.Add(1)
			h.logger.Error("frame processing panicked", "connection_id", connectionID, "panic", r)
			out = Degenerate(ev, fmt.Errorf("internal error: %v", r))
		}
	}()

	start := time.Now()
	out, err := h.process(ctx, connectionID, ev)
	if err != nil {
		h.failed.Add(1)
		h.logger.Warn("frame processing failed", "connection_id", connectionID, "error", err)
		return Degenerate(ev, err)
	}

	h.processed.Add(1)
	h.logger.Debug("frame processed",
		"connection_id", connectionID,
		"session_id", out.SessionID,
		"face_detected", out.FaceDetected,
		"confidence", out.Confidence,
		"elapsed", time.Since(start))
	return out
}

func (h *Handler) process(ctx context.Context, connectionID string, ev FrameEvent) (EmotionEvent, error) {
	img, _, err := h.codec.Decode(ev.Img)
	if err != nil {
		return EmotionEvent{}, err
	}

	input, faceDetected := h.selectInput(ctx, img)

	raw, err := h.classifier.Classify(ctx, input)
	if err != nil {
		return EmotionEvent{}, err
	}

	vector := h.normalizer.Normalize(raw)
	confidence := emotion.Confidence(vector)

	result := session.FrameResult{
		Emotions:     vector,
		Confidence:   confidence,
		FaceDetected: faceDetected,
		Timestamp:    ev.Timestamp,
		VideoTime:    ev.VideoTime,
	}
	sessionID, err := h.store.Record(connectionID, ev.VideoURL, result)
	if err != nil {
		return EmotionEvent{}, fmt.Errorf("record frame: %w", err)
	}

	if h.bus != nil {
		result.SessionID = sessionID
		h.bus.Publish(&events.FrameRecorded{
			ConnectionID: connectionID,
			SessionID:    sessionID,
			ContentID:    ev.VideoURL,
			Result:       result,
		})
	}

	return EmotionEvent{
		Emotions:     vector.Map(),
		Timestamp:    ev.Timestamp,
		VideoTime:    ev.VideoTime,
		Confidence:   confidence,
		FaceDetected: faceDetected,
		SessionID:    sessionID,
	}, nil
}

// selectInput returns the located face crop, or the full frame when no face
// was found. Locator failures are logged and treated as no face.
func (h *Handler) selectInput(ctx context.Context, img image.Image) (image.Image, bool) {
	region, err := h.locator.Locate(ctx, img)
	if err != nil {
		h.logger.Warn("face location failed, using full frame", "error", err)
		return img, false
	}
	if region == nil || region.Image == nil {
		return img, false
	}
	return region.Image, true
}
