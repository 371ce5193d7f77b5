// Package cdn implements an image backend on a Cloudinary-style media CDN.
//
// Images are stored under public ids "{root}/{sub-category}/{stem}" and
// listed through the admin resources API, which is paged with next_cursor.
// Uploads use the signed upload API.
package cdn

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/yawon3/pocali-backend/internal/breaker"
	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/catalog"
)

// pageSize is the largest page the resources API serves.
const pageSize = 500

// Options configures a Backend.
type Options struct {
	// BaseURL is the API root, e.g. "https://api.cloudinary.com".
	BaseURL   string
	CloudName string
	APIKey    string
	APISecret string

	// RootFolder is the folder all card images live under ("pocali").
	RootFolder string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// Backend lists and uploads images on the CDN.
type Backend struct {
	opts   Options
	base   string
	root   string
	client *http.Client
	cb     *breaker.Breaker
	now    func() time.Time
}

var (
	_ catalog.Source   = (*Backend)(nil)
	_ catalog.Uploader = (*Backend)(nil)
)

// New creates a Backend. It does not contact the CDN.
func New(opts Options) (*Backend, error) {
	if opts.CloudName == "" || opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("cdn: cloud name, API key and API secret are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.cloudinary.com"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Backend{
		opts:   opts,
		base:   strings.TrimRight(opts.BaseURL, "/") + "/v1_1/" + url.PathEscape(opts.CloudName),
		root:   strings.Trim(opts.RootFolder, "/"),
		client: client,
		cb: breaker.New("cdn", func(err error) bool {
			return errors.Is(err, catalog.ErrExists) || errors.Is(err, context.Canceled)
		}),
		now: time.Now,
	}, nil
}

// Name implements catalog.Source.
func (b *Backend) Name() string { return "cdn" }

type resource struct {
	PublicID  string `json:"public_id"`
	Format    string `json:"format"`
	SecureURL string `json:"secure_url"`
	Existing  bool   `json:"existing"`
}

type resourcePage struct {
	Resources  []resource `json:"resources"`
	NextCursor string     `json:"next_cursor"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// List implements catalog.Source.
func (b *Backend) List(ctx context.Context) ([]card.Entry, error) {
	var entries []card.Entry
	cursor := ""
	for {
		q := url.Values{"max_results": {strconv.Itoa(pageSize)}}
		if b.root != "" {
			q.Set("prefix", b.root+"/")
		}
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		var page resourcePage
		err := b.cb.Do(func() error {
			return b.getResources(ctx, q, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("cdn list: %w", err)
		}
		for _, r := range page.Resources {
			if e, ok := b.entry(r); ok {
				entries = append(entries, e)
			}
		}
		if page.NextCursor == "" {
			return entries, nil
		}
		cursor = page.NextCursor
	}
}

func (b *Backend) getResources(ctx context.Context, q url.Values, page *resourcePage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+"/resources/image/upload?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(b.opts.APIKey, b.opts.APISecret)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(page); err != nil {
		return fmt.Errorf("decode resources: %w", err)
	}
	return nil
}

// entry converts a resource into a catalog entry; resources outside the root
// folder or with a non-image format are skipped.
func (b *Backend) entry(r resource) (card.Entry, bool) {
	rel := r.PublicID
	if b.root != "" {
		if !strings.HasPrefix(rel, b.root+"/") {
			return card.Entry{}, false
		}
		rel = strings.TrimPrefix(rel, b.root+"/")
	}
	dir, stem := path.Split(rel)
	name := stem + "." + r.Format
	if stem == "" || !catalog.AllowedFile(name) {
		return card.Entry{}, false
	}
	return card.Entry{
		Name:           name,
		SourceCategory: strings.TrimSuffix(dir, "/"),
		URL:            r.SecureURL,
	}, true
}

// Put implements catalog.Uploader. The upload is sent with overwrite=false;
// an already stored public id yields catalog.ErrExists.
func (b *Backend) Put(ctx context.Context, sub, filename string, src io.Reader) (card.Entry, error) {
	sub, err := catalog.CleanSubCategory(sub)
	if err != nil {
		return card.Entry{}, err
	}
	filename = path.Base(filename)
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	publicID := path.Join(b.root, sub, stem)

	data, err := io.ReadAll(src)
	if err != nil {
		return card.Entry{}, fmt.Errorf("read upload: %w", err)
	}

	var res resource
	err = b.cb.Do(func() error {
		return b.upload(ctx, publicID, filename, data, &res)
	})
	if err != nil {
		return card.Entry{}, fmt.Errorf("cdn put: %w", err)
	}
	if res.Existing {
		return card.Entry{}, fmt.Errorf("cdn put: %w: %q", catalog.ErrExists, publicID)
	}
	if res.PublicID == "" {
		res.PublicID = publicID
	}
	if e, ok := b.entry(res); ok {
		return e, nil
	}
	return card.Entry{Name: filename, SourceCategory: sub, URL: res.SecureURL}, nil
}

func (b *Backend) upload(ctx context.Context, publicID, filename string, data []byte, res *resource) error {
	params := map[string]string{
		"overwrite": "false",
		"public_id": publicID,
		"timestamp": strconv.FormatInt(b.now().Unix(), 10),
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range params {
		_ = mw.WriteField(k, v)
	}
	_ = mw.WriteField("api_key", b.opts.APIKey)
	_ = mw.WriteField("signature", Sign(params, b.opts.APISecret))
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+"/image/upload", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return fmt.Errorf("decode upload response: %w", err)
	}
	return nil
}

// Sign computes the upload signature: the SHA-1 hex digest of the
// parameters sorted by name, joined as "k=v&k=v", followed by the secret.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

func statusError(resp *http.Response) error {
	var ae apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
		return fmt.Errorf("status %s: %s", resp.Status, ae.Error.Message)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
