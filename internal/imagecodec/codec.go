// Package imagecodec decodes inbound frame payloads into raster images and
// provides the crop/resize/encode helpers used around the detection backends.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Format is the name of a decoded image format ("jpeg", "png", "webp", ...)
type Format string

// DefaultMaxBytes bounds the decoded payload size
const DefaultMaxBytes = 8 << 20

var (
	ErrEmptyPayload   = errors.New("empty image payload")
	ErrInvalidDataURL = errors.New("invalid data URL")
	ErrTooLarge       = errors.New("image payload too large")
)

// DecodeError reports a malformed frame payload
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec decodes frame payloads
type Codec struct {
	maxBytes int
	formats  map[Format]bool
}

// Option configures a Codec
type Option func(*Codec)

// WithMaxBytes bounds the decoded payload size
func WithMaxBytes(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithFormats restricts the accepted formats
func WithFormats(formats ...Format) Option {
	return func(c *Codec) {
		if len(formats) == 0 {
			return
		}
		c.formats = make(map[Format]bool, len(formats))
		for _, f := range formats {
			c.formats[f] = true
		}
	}
}

// New creates a codec accepting jpeg, png, gif, webp and bmp
func New(opts ...Option) *Codec {
	c := &Codec{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode turns a data URL ("data:image/jpeg;base64,...") or a bare base64
// string into an image.
func (c *Codec) Decode(payload string) (image.Image, Format, error) {
	raw, err := c.payloadBytes(payload)
	if err != nil {
		return nil, "", err
	}
	return c.DecodeBytes(raw)
}

// DecodeBytes decodes an already-binary image
func (c *Codec) DecodeBytes(raw []byte) (image.Image, Format, error) {
	if len(raw) == 0 {
		return nil, "", &DecodeError{Stage: "payload", Err: ErrEmptyPayload}
	}
	if len(raw) > c.maxBytes {
		return nil, "", &DecodeError{Stage: "payload", Err: ErrTooLarge}
	}

	img, name, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &DecodeError{Stage: "image", Err: err}
	}
	format := Format(name)
	if c.formats != nil && !c.formats[format] {
		return nil, "", &DecodeError{Stage: "image", Err: fmt.Errorf("format %q not accepted", name)}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", &DecodeError{Stage: "image", Err: errors.New("zero-sized image")}
	}
	return img, format, nil
}

func (c *Codec) payloadBytes(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, &DecodeError{Stage: "payload", Err: ErrEmptyPayload}
	}

	encoded := payload
	if strings.HasPrefix(payload, "data:") {
		header, data, ok := strings.Cut(payload, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, &DecodeError{Stage: "payload", Err: ErrInvalidDataURL}
		}
		encoded = data
	}

	// base64 expands by 4/3
	if len(encoded)/4*3 > c.maxBytes {
		return nil, &DecodeError{Stage: "payload", Err: ErrTooLarge}
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}
	return raw, nil
}

// EncodeJPEG encodes an image for upload to a remote backend
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps JPEG bytes in a data URL
func DataURL(jpegData []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
}
