package catalog

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/logging"
	"github.com/yawon3/pocali-backend/internal/metrics"
)

// Options holds optional configuration for a Catalog.
type Options struct {
	// CacheTTL is how long an assembled catalog is reused. Zero disables
	// caching; every Images call then lists the backend.
	CacheTTL time.Duration
}

// Catalog assembles the browsable image catalog from a storage Source.
// It is safe for concurrent use.
type Catalog struct {
	src      Source
	uploader Uploader   // optional; nil if the backend can't store
	files    FileServer // optional; nil if images are served remotely
	parser   *card.Parser
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	cached   []card.Metadata
	cachedAt time.Time
	gen      uint64 // bumped by Invalidate

	// uploadMu serializes uploads so two requests never compute the same
	// unique id.
	uploadMu sync.Mutex
}

// New creates a Catalog over src. If src also implements Uploader, uploads
// are enabled; if it implements FileServer, FileSystem returns its root.
func New(src Source, parser *card.Parser, opts Options) *Catalog {
	c := &Catalog{
		src:    src,
		parser: parser,
		opts:   opts,
		now:    time.Now,
	}
	if u, ok := src.(Uploader); ok {
		c.uploader = u
	}
	if fs, ok := src.(FileServer); ok {
		c.files = fs
	}
	return c
}

// Backend returns the name of the underlying storage backend.
func (c *Catalog) Backend() string { return c.src.Name() }

// Parser returns the filename parser in use.
func (c *Catalog) Parser() *card.Parser { return c.parser }

// CanUpload reports whether the backend accepts uploads.
func (c *Catalog) CanUpload() bool { return c.uploader != nil }

// FileSystem returns the local image root, if the backend has one.
func (c *Catalog) FileSystem() (http.FileSystem, bool) {
	if c.files == nil {
		return nil, false
	}
	return c.files.FileSystem(), true
}

// Images returns the assembled catalog: every parseable stored image,
// highest unique id first. The returned slice belongs to the caller.
func (c *Catalog) Images(ctx context.Context) ([]card.Metadata, error) {
	var gen uint64
	if c.opts.CacheTTL > 0 {
		c.mu.Lock()
		if c.cached != nil && c.now().Sub(c.cachedAt) < c.opts.CacheTTL {
			out := slices.Clone(c.cached)
			c.mu.Unlock()
			return out, nil
		}
		gen = c.gen
		c.mu.Unlock()
	}

	entries, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	images, skipped := card.AssembleWithSkipped(c.parser, entries)
	metrics.CatalogEntries.WithLabelValues("assembled").Add(float64(len(images)))
	metrics.CatalogEntries.WithLabelValues("skipped").Add(float64(len(skipped)))
	for _, name := range skipped {
		logging.Debug().Str("backend", c.src.Name()).Str("name", name).Msg("skipping unparseable image name")
	}

	if c.opts.CacheTTL > 0 {
		c.mu.Lock()
		// A listing that raced with Invalidate may predate an upload.
		if c.gen == gen {
			c.cached = images
			c.cachedAt = c.now()
		}
		c.mu.Unlock()
		return slices.Clone(images), nil
	}
	return images, nil
}

// Invalidate drops the cached catalog so the next Images call lists the
// backend again. Listings already in flight are not cached.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.gen++
	c.mu.Unlock()
}

func (c *Catalog) list(ctx context.Context) ([]card.Entry, error) {
	start := time.Now()
	entries, err := c.src.List(ctx)
	metrics.CatalogListDuration.WithLabelValues(c.src.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("list %s images: %w", c.src.Name(), err)
	}
	return entries, nil
}

// NextUniqueID returns one more than the highest all-digit unique id among
// the stored images (1 for an empty store). It always lists the backend.
// ErrIDsExhausted is returned when the next id would not fit in an int.
func (c *Catalog) NextUniqueID(ctx context.Context) (int, error) {
	entries, err := c.list(ctx)
	if err != nil {
		return 0, err
	}
	maxID := "0"
	for _, e := range entries {
		if !AllowedFile(e.Name) {
			continue
		}
		md, ok := c.parser.Parse(e.Name)
		if !ok || !isDigits(md.UniqueID) {
			continue
		}
		if card.CompareIDs(md.UniqueID, maxID) > 0 {
			maxID = md.UniqueID
		}
	}
	n, err := strconv.Atoi(maxID)
	if err != nil || n == math.MaxInt {
		return 0, fmt.Errorf("%w: highest stored id is %s", ErrIDsExhausted, maxID)
	}
	return n + 1, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// UploadRequest describes one admin upload.
type UploadRequest struct {
	// CustomName is the filename stem chosen by the admin; the next unique
	// id and the original extension are appended to it.
	CustomName string

	// SubCategory is the folder to store the image under ("" for the root).
	SubCategory string

	// OriginalFilename is the client-side filename; only its extension is used.
	OriginalFilename string

	Body io.Reader
}

// Upload validates req, names the file "{CustomName}{next id}.{ext}" and
// stores it. The cached catalog is invalidated on success.
func (c *Catalog) Upload(ctx context.Context, req UploadRequest) (card.Entry, error) {
	if c.uploader == nil {
		return card.Entry{}, ErrUploadUnsupported
	}

	ext, ok := extension(req.OriginalFilename)
	if req.OriginalFilename == "" || !ok {
		return card.Entry{}, fmt.Errorf("%w: unsupported file type %q", ErrInvalidFile, req.OriginalFilename)
	}
	custom := strings.TrimSpace(req.CustomName)
	if custom == "" || strings.ContainsAny(custom, `/\`) {
		return card.Entry{}, fmt.Errorf("%w: invalid custom filename %q", ErrInvalidFile, req.CustomName)
	}
	sub, err := CleanSubCategory(req.SubCategory)
	if err != nil {
		return card.Entry{}, err
	}

	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	next, err := c.NextUniqueID(ctx)
	if err != nil {
		return card.Entry{}, err
	}
	filename := fmt.Sprintf("%s%d.%s", custom, next, ext)

	entry, err := c.uploader.Put(ctx, sub, filename, req.Body)
	if err != nil {
		return card.Entry{}, fmt.Errorf("store %q: %w", filename, err)
	}
	c.Invalidate()
	logging.Info().Str("backend", c.src.Name()).Str("name", filename).Str("sub_category", sub).Msg("image uploaded")
	return entry, nil
}

// CleanSubCategory normalizes a storage sub-folder to a relative,
// slash-separated path. It rejects absolute paths and paths escaping the
// root.
func CleanSubCategory(sub string) (string, error) {
	sub = strings.TrimSpace(strings.ReplaceAll(sub, `\`, "/"))
	if sub == "" || sub == "." {
		return "", nil
	}
	if strings.HasPrefix(sub, "/") {
		return "", fmt.Errorf("%w: absolute sub-category %q", ErrInvalidFile, sub)
	}
	cleaned := path.Clean(sub)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: sub-category %q escapes the image root", ErrInvalidFile, sub)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}
