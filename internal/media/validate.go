// Package media turns a picked image into an uploaded attachment while
// driving the same message lifecycle as a text send.
package media

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the upload size ceiling.
const DefaultMaxBytes int64 = 10 << 20

var (
	// ErrUnsupportedFormat is returned for anything but JPEG, PNG, WebP or GIF.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge is returned when the file exceeds the size ceiling.
	ErrTooLarge = errors.New("image too large")
	// ErrEmptyImage is returned for a zero-byte file.
	ErrEmptyImage = errors.New("image is empty")
)

var supportedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// IsValidation reports whether err came from Validate and needs no retry.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmptyImage)
}

// LocalPath converts a file:// URI (or a plain path) into a filesystem path.
func LocalPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// FileURI converts a filesystem path into a file:// URI.
func FileURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + path
}

// Validator checks format and size before any processing.
type Validator struct {
	MaxBytes int64
}

// Validate sniffs the file content and returns its MIME type.
func (v Validator) Validate(uri string) (string, error) {
	limit := v.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	path := LocalPath(uri)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}
	if info.Size() == 0 {
		return "", ErrEmptyImage
	}
	if info.Size() > limit {
		return "", fmt.Errorf("%w: %s exceeds the %s limit",
			ErrTooLarge, humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(limit)))
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect image type: %w", err)
	}
	for _, t := range supportedTypes {
		if mt.Is(t) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
}
