package stream

import (
	"errors"
	"fmt"

	"neurolens/internal/emotion"
)

// Event names used on the wire
const (
	EventFrame   = "frame"
	EventEmotion = "emotion"
)

// ErrInvalidRequest reports a frame event missing a required field
var ErrInvalidRequest = errors.New("invalid request")

// FrameEvent is one client-submitted frame
type FrameEvent struct {
	Img       string  `json:"img" msgpack:"img"`
	Timestamp float64 `json:"timestamp" msgpack:"timestamp"`
	VideoTime float64 `json:"videoTime,omitempty" msgpack:"videoTime,omitempty"`
	VideoURL  string  `json:"videoUrl,omitempty" msgpack:"videoUrl,omitempty"`
}

// Validate checks the image payload and timestamp are present. A zero
// timestamp counts as missing.
func (f FrameEvent) Validate() error {
	switch {
	case f.Img == "":
		return fmt.Errorf("%w: img is required", ErrInvalidRequest)
	case f.Timestamp == 0:
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRequest)
	}
	return nil
}

// EmotionEvent is the per-frame result sent back to the client
type EmotionEvent struct {
	Emotions     map[string]float64 `json:"emotions" msgpack:"emotions"`
	Timestamp    float64            `json:"timestamp" msgpack:"timestamp"`
	VideoTime    float64            `json:"videoTime" msgpack:"videoTime"`
	Confidence   float64            `json:"confidence" msgpack:"confidence"`
	FaceDetected bool               `json:"face_detected" msgpack:"face_detected"`
	SessionID    string             `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	Error        string             `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Degenerate builds the neutral emission for a frame that produced no signal.
// The frame's timestamp and video time are echoed as supplied.
func Degenerate(ev FrameEvent, err error) EmotionEvent {
	out := EmotionEvent{
		Emotions:  emotion.Degenerate().Map(),
		Timestamp: ev.Timestamp,
		VideoTime: ev.VideoTime,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
