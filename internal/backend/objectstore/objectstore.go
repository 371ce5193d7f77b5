// Package objectstore implements an image backend on top of a
// Firebase/Cloud Storage style bucket API.
//
// Objects are named "{prefix}/{sub-category}/{filename}". The listing
// endpoint is paged with nextPageToken; every page is read before List
// returns. Images are served directly by the store via "?alt=media" URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/yawon3/pocali-backend/internal/breaker"
	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/catalog"
)

// Options configures a Backend.
type Options struct {
	// BaseURL is the API root, e.g. "https://firebasestorage.googleapis.com".
	BaseURL string

	// Bucket is the bucket name.
	Bucket string

	// Prefix is the folder holding the images ("images"). Empty lists the
	// whole bucket.
	Prefix string

	// Token is an optional OAuth bearer token sent with every request.
	Token string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// Backend lists and stores images in a bucket.
type Backend struct {
	base   string
	bucket string
	prefix string
	token  string
	client *http.Client
	cb     *breaker.Breaker
}

var (
	_ catalog.Source   = (*Backend)(nil)
	_ catalog.Uploader = (*Backend)(nil)
)

// New creates a Backend. It does not contact the store.
func New(opts Options) (*Backend, error) {
	if opts.BaseURL == "" || opts.Bucket == "" {
		return nil, errors.New("objectstore: base URL and bucket are required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Backend{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		token:  opts.Token,
		client: client,
		cb:     breaker.New("objectstore", harmless),
	}, nil
}

// harmless reports errors that say nothing about the store's health.
func harmless(err error) bool {
	return errors.Is(err, catalog.ErrExists) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Name implements catalog.Source.
func (b *Backend) Name() string { return "objectstore" }

type listPage struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// List implements catalog.Source.
func (b *Backend) List(ctx context.Context) ([]card.Entry, error) {
	var entries []card.Entry
	token := ""
	for {
		q := url.Values{}
		if b.prefix != "" {
			q.Set("prefix", b.prefix+"/")
		}
		if token != "" {
			q.Set("pageToken", token)
		}
		var page listPage
		err := b.cb.Do(func() error {
			return b.getJSON(ctx, b.objectsURL()+"?"+q.Encode(), &page)
		})
		if err != nil {
			return nil, fmt.Errorf("objectstore list: %w", err)
		}
		for _, it := range page.Items {
			if e, ok := b.entry(it.Name); ok {
				entries = append(entries, e)
			}
		}
		if page.NextPageToken == "" {
			return entries, nil
		}
		token = page.NextPageToken
	}
}

// entry converts an object name into a catalog entry. Folder placeholders
// and non-image objects are skipped.
func (b *Backend) entry(object string) (card.Entry, bool) {
	rel := object
	if b.prefix != "" {
		if !strings.HasPrefix(object, b.prefix+"/") {
			return card.Entry{}, false
		}
		rel = strings.TrimPrefix(object, b.prefix+"/")
	}
	dir, name := path.Split(rel)
	if name == "" || strings.HasPrefix(name, ".") || !catalog.AllowedFile(name) {
		return card.Entry{}, false
	}
	return card.Entry{
		Name:           name,
		SourceCategory: strings.TrimSuffix(dir, "/"),
		URL:            b.mediaURL(object),
	}, true
}

// Put implements catalog.Uploader. It refuses to replace an existing object.
func (b *Backend) Put(ctx context.Context, sub, filename string, src io.Reader) (card.Entry, error) {
	sub, err := catalog.CleanSubCategory(sub)
	if err != nil {
		return card.Entry{}, err
	}
	filename = path.Base(filename)
	object := path.Join(b.prefix, sub, filename)

	// The body is buffered so the request can be built inside the breaker.
	body, err := io.ReadAll(src)
	if err != nil {
		return card.Entry{}, fmt.Errorf("read upload: %w", err)
	}

	err = b.cb.Do(func() error {
		exists, err := b.exists(ctx, object)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", catalog.ErrExists, object)
		}
		return b.upload(ctx, object, body)
	})
	if err != nil {
		return card.Entry{}, fmt.Errorf("objectstore put: %w", err)
	}
	return card.Entry{Name: filename, SourceCategory: sub, URL: b.mediaURL(object)}, nil
}

func (b *Backend) exists(ctx context.Context, object string) (bool, error) {
	req, err := b.newRequest(ctx, http.MethodGet, b.objectsURL()+"/"+url.PathEscape(object), nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("stat %q: unexpected status %s", object, resp.Status)
	}
}

func (b *Backend) upload(ctx context.Context, object string, body []byte) error {
	q := url.Values{"name": {object}}
	req, err := b.newRequest(ctx, http.MethodPost, b.objectsURL()+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	ctype := mime.TypeByExtension(path.Ext(object))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ctype)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload %q: status %s: %s", object, resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (b *Backend) getJSON(ctx context.Context, u string, v any) error {
	req, err := b.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", req.URL.Path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode listing: %w", err)
	}
	return nil
}

func (b *Backend) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return req, nil
}

func (b *Backend) objectsURL() string {
	return b.base + "/v0/b/" + url.PathEscape(b.bucket) + "/o"
}

// mediaURL is the public download URL of object.
func (b *Backend) mediaURL(object string) string {
	return b.objectsURL() + "/" + url.PathEscape(object) + "?alt=media"
}
