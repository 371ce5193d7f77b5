// Package fs implements a filesystem-based image backend for pocali.
// Card images live under a root directory; the first-level (and deeper)
// folders are the images' sub-categories.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/catalog"
)

// Backend is a filesystem-based image backend.
type Backend struct {
	root      string
	urlPrefix string
}

// New creates a backend rooted at dir, creating the directory if needed.
// urlPrefix is the public path the root is served under (e.g. "/static/images").
func New(dir, urlPrefix string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create images dir %q: %w", dir, err)
	}
	return &Backend{
		root:      dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
	}, nil
}

var (
	_ catalog.Source     = (*Backend)(nil)
	_ catalog.Uploader   = (*Backend)(nil)
	_ catalog.FileServer = (*Backend)(nil)
)

// Name implements catalog.Source.
func (b *Backend) Name() string { return "fs" }

// Root returns the images directory.
func (b *Backend) Root() string { return b.root }

// FileSystem implements catalog.FileServer.
func (b *Backend) FileSystem() http.FileSystem { return http.Dir(b.root) }

// List walks the root directory and returns every image file. Hidden files
// and directories are skipped, as are files without an image extension.
func (b *Backend) List(ctx context.Context) ([]card.Entry, error) {
	var entries []card.Entry

	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if p != b.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !catalog.AllowedFile(name) {
			return nil
		}

		rel, err := filepath.Rel(b.root, filepath.Dir(p))
		if err != nil {
			return nil
		}
		sub := filepath.ToSlash(rel)
		if sub == "." {
			sub = ""
		}
		entries = append(entries, card.Entry{
			Name:           name,
			SourceCategory: sub,
			URL:            b.url(sub, name),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning directory %q: %w", b.root, err)
	}
	return entries, nil
}

// url builds the public URL of sub/name, escaping each path segment.
func (b *Backend) url(sub, name string) string {
	segs := []string{b.urlPrefix}
	if sub != "" {
		for _, s := range strings.Split(sub, "/") {
			segs = append(segs, url.PathEscape(s))
		}
	}
	segs = append(segs, url.PathEscape(name))
	return strings.Join(segs, "/")
}

// Put saves src as filename inside sub (relative to the root). It implements
// catalog.Uploader.
func (b *Backend) Put(ctx context.Context, sub, filename string, src io.Reader) (card.Entry, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return card.Entry{}, fmt.Errorf("%w: empty filename", catalog.ErrInvalidFile)
	}
	sub, err := catalog.CleanSubCategory(sub)
	if err != nil {
		return card.Entry{}, err
	}

	destDir := filepath.Join(b.root, filepath.FromSlash(sub))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return card.Entry{}, fmt.Errorf("create folder %q: %w", sub, err)
	}
	destPath := filepath.Join(destDir, filename)

	// Refuse to overwrite an existing file
	if _, err := os.Stat(destPath); err == nil {
		return card.Entry{}, fmt.Errorf("%w: %q", catalog.ErrExists, path.Join(sub, filename))
	} else if !errors.Is(err, os.ErrNotExist) {
		return card.Entry{}, fmt.Errorf("stat %q: %w", destPath, err)
	}

	// Write to a temp file first, then rename (atomic on most filesystems)
	tmp, err := os.CreateTemp(destDir, ".upload-*.tmp")
	if err != nil {
		return card.Entry{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // clean up temp on failure

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		return card.Entry{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return card.Entry{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return card.Entry{}, fmt.Errorf("rename upload: %w", err)
	}

	return card.Entry{Name: filename, SourceCategory: sub, URL: b.url(sub, filename)}, nil
}

// contextReader stops an in-flight copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
