// Package catalog provides the card image catalog for pocali.
// It defines the storage interfaces backends implement and the Catalog
// service that lists, parses and orders stored images.
package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/yawon3/pocali-backend/internal/card"
)

// Sentinel errors returned by Catalog.Upload.
var (
	// ErrInvalidFile means the upload was refused before reaching storage
	// (bad extension, empty name, unsafe sub-category).
	ErrInvalidFile = errors.New("invalid file")

	// ErrUploadUnsupported means the configured backend cannot store images.
	ErrUploadUnsupported = errors.New("upload not supported by this backend")

	// ErrExists means a file with the generated name is already stored.
	ErrExists = errors.New("file already exists")

	// ErrIDsExhausted means the highest stored unique id leaves no room
	// for a next one.
	ErrIDsExhausted = errors.New("unique ids exhausted")
)

// Source is the interface that storage backends must satisfy.
// A Source lists every stored image; backends with paginated listings drain
// all pages before returning.
type Source interface {
	// Name identifies the backend in logs and metrics ("fs", "objectstore", "cdn").
	Name() string

	// List returns every stored image with its sub-category and public URL.
	List(ctx context.Context) ([]card.Entry, error)
}

// Uploader is an optional interface that backends may implement to accept
// new images.
type Uploader interface {
	// Put stores src as filename under subCategory ("" for the root) and
	// returns the listing entry the stored image will have.
	// Put must not overwrite an existing file; it returns ErrExists instead.
	Put(ctx context.Context, subCategory, filename string, src io.Reader) (card.Entry, error)
}

// FileServer is an optional interface for backends whose images are served
// by this process rather than by a remote store.
type FileServer interface {
	// FileSystem returns the root of the stored images.
	FileSystem() http.FileSystem
}

// allowedExtensions lists the image types accepted for upload and listing.
var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
}

// AllowedFile reports whether filename has an accepted image extension
// (case-insensitive).
func AllowedFile(filename string) bool {
	_, ok := extension(filename)
	return ok
}

// extension returns the lower-cased extension of filename without the dot
// and whether it is an accepted image type.
func extension(filename string) (string, bool) {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return "", false
	}
	ext := strings.ToLower(filename[i+1:])
	return ext, allowedExtensions[ext]
}
