package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestDecodeDataURL(t *testing.T) {
	c := New()
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 32, 16))

	img, format, err := c.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, Format("png"), format)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestDecodeBareBase64AndJPEG(t *testing.T) {
	jpg, err := EncodeJPEG(Uniform(20, 128), 80)
	require.NoError(t, err)

	img, format, err := New().Decode(base64.StdEncoding.EncodeToString(jpg))
	require.NoError(t, err)
	assert.Equal(t, Format("jpeg"), format)
	assert.Equal(t, 20, MinSide(img))

	_, format, err = New().Decode(DataURL(jpg))
	require.NoError(t, err)
	assert.Equal(t, Format("jpeg"), format)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		target  error
	}{
		{"empty", "", ErrEmptyPayload},
		{"data url without comma", "data:image/png;base64", ErrInvalidDataURL},
		{"data url not base64", "data:image/png,abc", ErrInvalidDataURL},
		{"bad base64", "data:image/png;base64,@@@", nil},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello world")), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New().Decode(tt.payload)
			require.Error(t, err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestDecodeLimits(t *testing.T) {
	raw := pngBytes(t, 64, 64)

	_, _, err := New(WithMaxBytes(10)).DecodeBytes(raw)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = New(WithFormats("jpeg")).DecodeBytes(raw)
	assert.Error(t, err)
}

func TestCropAndResize(t *testing.T) {
	img := Uniform(100, 10)

	crop := Crop(img, image.Rect(90, 90, 150, 150))
	require.NotNil(t, crop)
	assert.Equal(t, image.Rect(0, 0, 10, 10), crop.Bounds())

	assert.Nil(t, Crop(img, image.Rect(200, 200, 300, 300)))

	wide := image.NewRGBA(image.Rect(0, 0, 400, 100))
	small := Resize(wide, 200)
	assert.Equal(t, 200, small.Bounds().Dx())
	assert.Equal(t, 50, small.Bounds().Dy())

	assert.Same(t, img, Resize(img, 224).(*image.RGBA))
}
