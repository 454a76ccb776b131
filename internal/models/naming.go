package models

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ResultPrefix is prepended to an object key to name its processed copy.
const ResultPrefix = "compressed_"

// fallbackFilename is used when the caller supplied no usable name
const fallbackFilename = "upload"

// ResultKey derives the destination key for an object key. The mapping is
// fixed, so processing the same envelope twice overwrites one object.
func ResultKey(objectKey string) string {
	return ResultPrefix + objectKey
}

// SanitizeFilename reduces a client supplied filename to a single safe path
// segment:
// - drops any directory part (both / and \ separators)
// - trims surrounding whitespace
// - collapses inner whitespace runs to a single underscore
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))

	var b strings.Builder
	inSpace := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}

	out := b.String()
	switch out {
	case "", ".", "..", "/":
		return fallbackFilename
	}
	return out
}

// NewObjectKey builds "<unix seconds>_<id>_<filename>".
func NewObjectKey(t time.Time, id, filename string) string {
	return fmt.Sprintf("%d_%s_%s", t.Unix(), id, SanitizeFilename(filename))
}

// KeyMinter mints object keys for uploads. The zero value uses the wall clock
// and random UUIDs.
type KeyMinter struct {
	Now   func() time.Time
	NewID func() string
}

// Mint returns a fresh key for filename.
func (m KeyMinter) Mint(filename string) string {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	newID := randomID
	if m.NewID != nil {
		newID = m.NewID
	}
	return NewObjectKey(now().UTC(), newID(), filename)
}

// randomID returns 12 hex characters taken from a random UUID.
func randomID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
