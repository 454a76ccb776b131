package transform

import (
	"bytes"
	"fmt"

	"github.com/chai2010/webp"
)

// WebP converts any input image to lossy WebP. Alpha is kept.
type WebP struct {
	Quality int
}

func (WebP) Name() string { return "webp" }

func (w WebP) Transform(src []byte, _ string) (Result, error) {
	img, err := decode(src)
	if err != nil {
		return Result{}, err
	}

	quality := w.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return Result{}, fmt.Errorf("encode webp: %w", err)
	}

	return Result{Data: buf.Bytes(), ContentType: "image/webp"}, nil
}
