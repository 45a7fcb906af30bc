package imagecodec

import (
	"image"

	"golang.org/x/image/draw"
)

// Crop copies the region r (clipped to the image bounds) into a new RGBA image
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Resize scales img to fit within size x size, keeping its aspect ratio.
// Images already within bounds are returned unchanged.
func Resize(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if size <= 0 || (w <= size && h <= size) {
		return img
	}
	if w >= h {
		h = max(1, h*size/w)
		w = size
	} else {
		w = max(1, w*size/h)
		h = size
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// MinSide returns the shorter side of the image in pixels
func MinSide(img image.Image) int {
	b := img.Bounds()
	return min(b.Dx(), b.Dy())
}

// Uniform returns a size x size image filled with a single gray level
func Uniform(size int, gray uint8) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = gray, gray, gray, 0xff
	}
	return dst
}
