// Package transform holds the byte-to-byte image pipelines run by workers.
// A pipeline must be deterministic: the same input always yields the same
// output, so reprocessing a task only overwrites its result.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrUndecodable marks input bytes that are not a supported image.
var ErrUndecodable = errors.New("image cannot be decoded")

// ErrUnknownTransform is returned by New for names it does not know.
var ErrUnknownTransform = errors.New("unknown transform")

// Result is the output of a transform.
type Result struct {
	Data        []byte
	ContentType string
}

// Transformer converts source bytes into result bytes.
type Transformer interface {
	Name() string
	Transform(src []byte, contentType string) (Result, error)
}

// DefaultQuality is the lossy quality used when none is configured.
const DefaultQuality = 50

// New returns the transform registered under name.
func New(name string, quality int) (Transformer, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		return nil, fmt.Errorf("quality %d out of range 1-100", quality)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jpeg", "jpg":
		return JPEG{Quality: quality}, nil
	case "webp":
		return WebP{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
}

// decode reads any registered image format.
func decode(src []byte) (image.Image, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUndecodable)
	}
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, nil
}
