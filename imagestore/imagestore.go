// Package imagestore abstracts the directory of persisted images that
// backs the feature store. Implementations exist for the local file
// system and for S3-compatible object storage.
package imagestore

import (
	"context"
	"net/http"
	"os"
	"strings"
)

// ErrNotFound is returned when an image does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for the persisted image set.
type Store interface {
	// List returns the names of all stored images, sorted ascending.
	// Only files with a supported image extension are reported.
	List(ctx context.Context) ([]string, error)

	// Read returns the bytes of the named image.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write persists the image bytes under the given name.
	Write(ctx context.Context, name string, data []byte) error

	// Exists reports whether the named image is stored.
	Exists(ctx context.Context, name string) (bool, error)
}

// imageExtensions are the file extensions recognized as images.
var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// IsImageName reports whether name carries a supported image extension.
func IsImageName(name string) bool {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(name[idx:])]
	return ok
}

// DetectExtension sniffs the content type of the image bytes and
// returns the matching file extension (including the leading dot).
// Unrecognized content defaults to ".jpeg".
func DetectExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpeg"
	}
}
