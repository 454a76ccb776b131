package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// JPEG recompresses any input image as a baseline JPEG. Transparent areas are
// composited onto a white background since JPEG has no alpha channel.
type JPEG struct {
	Quality int
}

func (JPEG) Name() string { return "jpeg" }

func (j JPEG) Transform(src []byte, _ string) (Result, error) {
	img, err := decode(src)
	if err != nil {
		return Result{}, err
	}

	flat := Flatten(img, color.White)

	quality := j.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Result{Data: buf.Bytes(), ContentType: "image/jpeg"}, nil
}

// Flatten draws img over an opaque canvas of the given color.
func Flatten(img image.Image, background color.Color) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), background)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}
