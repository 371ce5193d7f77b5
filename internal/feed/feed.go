// Package feed renders the card catalog as an Atom feed so new cards can be
// followed from a feed reader.
//
// Specification: https://www.rfc-editor.org/rfc/rfc4287
package feed

import (
	"encoding/xml"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/yawon3/pocali-backend/internal/card"
)

const (
	NSAtom = "http://www.w3.org/2005/Atom"

	RelSelf      = "self"
	RelAlternate = "alternate"
	RelEnclosure = "enclosure"

	MIMEAtomFeed = "application/atom+xml"
	MIMEHTML     = "text/html"

	// Category schemes
	SchemeGroup    = "urn:pocali:group"
	SchemeMember   = "urn:pocali:member"
	SchemeCategory = "urn:pocali:category"
	SchemeFolder   = "urn:pocali:folder"
)

// Feed is an Atom feed document.
type Feed struct {
	XMLName xml.Name `xml:"feed"`
	Xmlns   string   `xml:"xmlns,attr"`

	ID      string   `xml:"id"`
	Title   Text     `xml:"title"`
	Updated AtomDate `xml:"updated"`
	Author  *Author  `xml:"author,omitempty"`

	Links   []Link  `xml:"link"`
	Entries []Entry `xml:"entry"`
}

// New creates an empty feed.
func New(id, title string, updated time.Time) *Feed {
	return &Feed{
		Xmlns:   NSAtom,
		ID:      id,
		Title:   Text{Value: title},
		Updated: AtomDate{Time: updated},
	}
}

// Text is an Atom text construct.
type Text struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Author is the person or site responsible for a feed.
type Author struct {
	Name string `xml:"name"`
	URI  string `xml:"uri,omitempty"`
}

// AtomDate wraps time.Time for RFC 3339 XML serialization.
type AtomDate struct {
	Time time.Time
}

func (d AtomDate) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(d.Time.UTC().Format(time.RFC3339), start)
}

func (d *AtomDate) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := dec.DecodeElement(&s, &start); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Link is an Atom link element.
type Link struct {
	Rel  string `xml:"rel,attr,omitempty"`
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr,omitempty"`
}

// Category tags an entry with a term from a scheme.
type Category struct {
	Scheme string `xml:"scheme,attr,omitempty"`
	Term   string `xml:"term,attr"`
}

// Entry is one card in the feed.
type Entry struct {
	ID         string     `xml:"id"`
	Title      Text       `xml:"title"`
	Updated    AtomDate   `xml:"updated"`
	Summary    *Text      `xml:"summary,omitempty"`
	Categories []Category `xml:"category"`
	Links      []Link     `xml:"link"`
}

// AddLink appends a link to the feed.
func (f *Feed) AddLink(rel, href, mimeType string) {
	f.Links = append(f.Links, Link{Rel: rel, Href: href, Type: mimeType})
}

// AddEntry appends an entry to the feed.
func (f *Feed) AddEntry(e Entry) {
	f.Entries = append(f.Entries, e)
}

// MarshalToXML serializes the feed with an XML declaration.
func (f *Feed) MarshalToXML() ([]byte, error) {
	data, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

// Options controls how a catalog is turned into a feed.
type Options struct {
	// BaseURL is the scheme and host relative image URLs are resolved
	// against, e.g. "https://pocali.example.com".
	BaseURL string

	// Limit caps the number of entries; zero means no cap.
	Limit int

	// Updated is the feed timestamp. Cards carry no upload time, so
	// every entry shares it.
	Updated time.Time
}

// FromCatalog builds a feed from an assembled catalog, which is already
// ordered newest first. Entry ids are the absolute image URLs.
func FromCatalog(images []card.Metadata, opts Options) *Feed {
	base := strings.TrimRight(opts.BaseURL, "/")
	f := New("urn:pocali:cards", "New photocards", opts.Updated)
	f.Author = &Author{Name: "pocali", URI: base + "/"}
	f.AddLink(RelSelf, base+"/feed.atom", MIMEAtomFeed)
	f.AddLink(RelAlternate, base+"/", MIMEHTML)

	if opts.Limit > 0 && len(images) > opts.Limit {
		images = images[:opts.Limit]
	}
	for _, m := range images {
		href := absolute(base, m.URL)
		e := Entry{
			ID:      href,
			Title:   Text{Value: Title(m)},
			Updated: AtomDate{Time: opts.Updated},
			Categories: []Category{
				{Scheme: SchemeGroup, Term: m.Group},
				{Scheme: SchemeMember, Term: m.Member},
				{Scheme: SchemeCategory, Term: m.Category},
			},
			Links: []Link{
				{Rel: RelEnclosure, Href: href, Type: imageType(m.URL)},
			},
		}
		if m.SourceCategory != "" {
			e.Categories = append(e.Categories, Category{Scheme: SchemeFolder, Term: m.SourceCategory})
		}
		if m.Version != "" {
			e.Summary = &Text{Value: "Version " + m.Version}
		}
		f.AddEntry(e)
	}
	return f
}

// Title is the human readable name of a card: its non-empty fields joined
// by spaces, followed by "#<unique id>".
func Title(m card.Metadata) string {
	parts := make([]string, 0, 6)
	for _, s := range []string{m.Group, m.Member, m.Category, m.Title, m.Version} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ") + " #" + m.UniqueID
}

// absolute resolves a root-relative image URL against base. Absolute URLs
// are returned unchanged.
func absolute(base, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}

func imageType(ref string) string {
	if u, err := url.Parse(ref); err == nil {
		ref = u.Path
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(ref))); t != "" {
		return t
	}
	return "image/*"
}
