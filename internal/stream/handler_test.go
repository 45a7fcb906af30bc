package stream

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurolens/internal/detection"
	"neurolens/internal/emotion"
	"neurolens/internal/events"
	"neurolens/internal/imagecodec"
	"neurolens/internal/session"
)

type fakeLocator struct {
	region *detection.Region
	err    error
}

func (f fakeLocator) Locate(ctx context.Context, img image.Image) (*detection.Region, error) {
	return f.region, f.err
}

type fakeClassifier struct {
	mu     sync.Mutex
	scores []emotion.Score
	err    error
	panic  bool
	inputs []image.Rectangle
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) Classify(ctx context.Context, img image.Image) ([]emotion.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("model exploded")
	}
	f.inputs = append(f.inputs, img.Bounds())
	return f.scores, f.err
}

func testFrame(t *testing.T, size int) string {
	t.Helper()
	data, err := imagecodec.EncodeJPEG(imagecodec.Uniform(size, 128), 80)
	require.NoError(t, err)
	return imagecodec.DataURL(data)
}

func newTestHandler(t *testing.T, locator detection.FaceLocator, classifier detection.EmotionClassifier, policy emotion.Policy) (*Handler, *session.Store, *events.Bus) {
	t.Helper()
	store := session.NewStore()
	bus := events.NewBus()
	h, err := NewHandler(Config{
		Locator:    locator,
		Classifier: classifier,
		Normalizer: emotion.NewNormalizer(policy, nil),
		Store:      store,
		Bus:        bus,
	})
	require.NoError(t, err)
	return h, store, bus
}

func TestHandleSuccess(t *testing.T) {
	classifier := &fakeClassifier{scores: []emotion.Score{
		{Label: "happy", Score: 0.7},
		{Label: "disgust", Score: 0.2},
		{Label: "neutral", Score: 0.1},
	}}
	h, store, bus := newTestHandler(t, nil, classifier, emotion.PolicySum)
	published, _ := bus.SubscribeChannel(4)

	ev := FrameEvent{Img: testFrame(t, 96), Timestamp: 1700000000123, VideoTime: 12.5, VideoURL: "https://video/1"}
	out := h.Handle(context.Background(), "conn-1", ev)

	assert.Empty(t, out.Error)
	assert.False(t, out.FaceDetected)
	assert.NotEmpty(t, out.SessionID)
	assert.InDelta(t, 0.7, out.Emotions["joy"], 1e-9)
	assert.InDelta(t, 0.2, out.Emotions["anger"], 1e-9)
	assert.InDelta(t, 0.1, out.Emotions["neutral"], 1e-9)
	assert.InDelta(t, 0.84, out.Confidence, 1e-9)
	assert.Equal(t, ev.Timestamp, out.Timestamp)
	assert.Equal(t, ev.VideoTime, out.VideoTime)

	sess, err := store.Get(out.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "https://video/1", sess.ContentID)
	assert.Equal(t, ev.Timestamp, sess.History[0].Timestamp)

	recorded := <-published
	assert.Equal(t, out.SessionID, recorded.SessionID)
	assert.Equal(t, "conn-1", recorded.ConnectionID)

	assert.Equal(t, Stats{Processed: 1}, h.Stats())
}

func TestHandleReusesSessionPerContent(t *testing.T) {
	classifier := &fakeClassifier{scores: []emotion.Score{{Label: "sad", Score: 1}}}
	h, store, _ := newTestHandler(t, nil, classifier, emotion.PolicyMax)
	img := testFrame(t, 80)

	first := h.Handle(context.Background(), "conn", FrameEvent{Img: img, Timestamp: 1, VideoURL: "a"})
	second := h.Handle(context.Background(), "conn", FrameEvent{Img: img, Timestamp: 2, VideoURL: "a"})
	other := h.Handle(context.Background(), "conn", FrameEvent{Img: img, Timestamp: 3, VideoURL: "b"})

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.SessionID, other.SessionID)
	assert.Equal(t, 2, store.Count())
}

func TestHandleUsesFaceCrop(t *testing.T) {
	crop := imagecodec.Uniform(70, 10)
	locator := fakeLocator{region: &detection.Region{Bounds: crop.Bounds(), Confidence: 0.9, Image: crop}}
	classifier := &fakeClassifier{scores: []emotion.Score{{Label: "surprise", Score: 0.9}}}
	h, _, _ := newTestHandler(t, locator, classifier, emotion.PolicyMax)

	out := h.Handle(context.Background(), "conn", FrameEvent{Img: testFrame(t, 200), Timestamp: 5})

	assert.True(t, out.FaceDetected)
	require.Len(t, classifier.inputs, 1)
	assert.Equal(t, 70, classifier.inputs[0].Dx())
	assert.InDelta(t, 1.0, out.Emotions["surprise"], 1e-9)
	assert.InDelta(t, 1.0, out.Confidence, 1e-9)
}

func TestHandleLocatorErrorFallsBackToFullFrame(t *testing.T) {
	locator := fakeLocator{err: errors.New("detector offline")}
	classifier := &fakeClassifier{scores: []emotion.Score{{Label: "happy", Score: 1}}}
	h, _, _ := newTestHandler(t, locator, classifier, emotion.PolicyMax)

	out := h.Handle(context.Background(), "conn", FrameEvent{Img: testFrame(t, 120), Timestamp: 5})

	assert.Empty(t, out.Error)
	assert.False(t, out.FaceDetected)
	require.Len(t, classifier.inputs, 1)
	assert.Equal(t, 120, classifier.inputs[0].Dx())
}

func TestHandleDegenerateEmissions(t *testing.T) {
	tests := []struct {
		name       string
		event      FrameEvent
		classifier *fakeClassifier
		wantError  bool
		wantStats  Stats
	}{
		{
			name:       "missing image",
			event:      FrameEvent{Timestamp: 10, VideoTime: 3},
			classifier: &fakeClassifier{},
			wantStats:  Stats{Rejected: 1},
		},
		{
			name:       "missing timestamp",
			event:      FrameEvent{Img: "data:image/jpeg;base64,AAAA"},
			classifier: &fakeClassifier{},
			wantStats:  Stats{Rejected: 1},
		},
		{
			name:       "undecodable image",
			event:      FrameEvent{Img: "data:image/jpeg;base64,bm90IGFuIGltYWdl", Timestamp: 10},
			classifier: &fakeClassifier{},
			wantError:  true,
			wantStats:  Stats{Failed: 1},
		},
		{
			name:       "classifier failure",
			classifier: &fakeClassifier{err: detection.ErrClassification},
			wantError:  true,
			wantStats:  Stats{Failed: 1},
		},
		{
			name:       "classifier panic",
			classifier: &fakeClassifier{panic: true},
			wantError:  true,
			wantStats:  Stats{Failed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store, _ := newTestHandler(t, nil, tt.classifier, emotion.PolicyMax)
			ev := tt.event
			if ev.Img == "" && ev.Timestamp == 0 {
				ev = FrameEvent{Img: testFrame(t, 90), Timestamp: 42, VideoTime: 1.5}
			}

			out := h.Handle(context.Background(), "conn", ev)

			assert.Equal(t, emotion.Degenerate().Map(), out.Emotions)
			assert.Equal(t, 1.0, out.Emotions["neutral"])
			assert.Zero(t, out.Confidence)
			assert.False(t, out.FaceDetected)
			assert.Empty(t, out.SessionID)
			assert.Equal(t, ev.Timestamp, out.Timestamp)
			assert.Equal(t, ev.VideoTime, out.VideoTime)
			assert.Equal(t, tt.wantError, out.Error != "")
			assert.Zero(t, store.Count())
			assert.Equal(t, tt.wantStats, h.Stats())
		})
	}
}

func TestHandleEmptyScoresAreDegenerate(t *testing.T) {
	h, store, _ := newTestHandler(t, nil, &fakeClassifier{}, emotion.PolicyMax)

	out := h.Handle(context.Background(), "conn", FrameEvent{Img: testFrame(t, 32), Timestamp: 1})

	assert.Empty(t, out.Error)
	assert.Equal(t, 1.0, out.Emotions["neutral"])
	assert.InDelta(t, 1.0, out.Confidence, 1e-9)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, 1, store.Count())
}

func TestHandleAfterDisconnectStartsFreshSession(t *testing.T) {
	classifier := &fakeClassifier{scores: []emotion.Score{{Label: "happy", Score: 1}}}
	h, store, _ := newTestHandler(t, nil, classifier, emotion.PolicyMax)
	img := testFrame(t, 80)

	first := h.Handle(context.Background(), "conn", FrameEvent{Img: img, Timestamp: 1, VideoURL: "v"})
	assert.Equal(t, 1, store.DeleteAllForConnection("conn"))
	second := h.Handle(context.Background(), "conn", FrameEvent{Img: img, Timestamp: 2, VideoURL: "v"})

	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestNewHandlerRequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Config{Store: session.NewStore()})
	assert.Error(t, err)
	_, err = NewHandler(Config{Classifier: &fakeClassifier{}})
	assert.Error(t, err)
}

func TestFrameEventValidate(t *testing.T) {
	assert.NoError(t, FrameEvent{Img: "x", Timestamp: 1}.Validate())
	assert.ErrorIs(t, FrameEvent{Timestamp: 1}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, FrameEvent{Img: "x"}.Validate(), ErrInvalidRequest)
}
