// Package card derives photocard metadata from stored image filenames and
// assembles the browsable image catalog.
//
// A card filename is a sequence of underscore-delimited tokens followed by an
// extension:
//
//	GROUP_MEMBER_CATEGORY[_TITLE[_VERSION]]_UNIQUEID.ext
//
// Every token except the unique id is passed through an ordered
// abbreviation table (see Substitution) before it is assigned to a field.
package card

import (
	"cmp"
	"sort"
	"strconv"
	"strings"
)

// minTokens is the smallest number of tokens a parseable filename has:
// group, member, category and unique id.
const minTokens = 4

// Metadata is the card record derived from one stored image.
type Metadata struct {
	// Group is the franchise/brand token after substitution.
	Group string `json:"group"`

	// Member is the member/person token after substitution.
	Member string `json:"member"`

	// Category is the card category token after substitution.
	Category string `json:"category"`

	// Title is the optional descriptive token ("" when absent).
	Title string `json:"title"`

	// Version is the optional variant token ("" when absent).
	Version string `json:"version"`

	// UniqueID is the last token of the filename, kept verbatim.
	UniqueID string `json:"unique_id"`

	// SourceCategory is the storage sub-folder the image was listed from.
	// It is supplied by the storage provider, never derived from the name.
	SourceCategory string `json:"sub_category"`

	// URL is the publicly reachable address of the image.
	URL string `json:"url"`
}

// NumericID returns UniqueID as a non-negative integer, or 0 when it is not
// one or does not fit in an int. Use CompareIDs to order ids of any size.
func (m Metadata) NumericID() int {
	n, err := strconv.Atoi(m.UniqueID)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CompareIDs compares two unique ids by numeric value and returns -1, 0 or
// +1. Ids of any length compare correctly; ids that are not non-negative
// integers count as 0.
func CompareIDs(a, b string) int {
	ka, kb := idDigits(a), idDigits(b)
	if len(ka) != len(kb) {
		return cmp.Compare(len(ka), len(kb))
	}
	return strings.Compare(ka, kb)
}

// idDigits returns the decimal digits of id without sign or leading zeros,
// or "0" when id is not a non-negative integer.
func idDigits(id string) string {
	d := strings.TrimPrefix(id, "+")
	if d == "" {
		return "0"
	}
	for i := 0; i < len(d); i++ {
		if d[i] < '0' || d[i] > '9' {
			return "0"
		}
	}
	if d = strings.TrimLeft(d, "0"); d == "" {
		return "0"
	}
	return d
}

// Entry is one raw image reported by a storage provider.
type Entry struct {
	// Name is the bare filename, already separated from any storage prefix.
	Name string

	// SourceCategory is the sub-folder (or storage prefix remainder) the
	// image lives under; "" for the root.
	SourceCategory string

	// URL is where clients can fetch the image.
	URL string
}

// Substitution is one literal pattern → replacement rule of the
// abbreviation table.
type Substitution struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// Parser turns filenames into Metadata using an ordered substitution table.
// A Parser is immutable and safe for concurrent use.
type Parser struct {
	table []Substitution
}

// NewParser returns a Parser applying table in the given order.
// The slice is copied.
func NewParser(table []Substitution) *Parser {
	t := make([]Substitution, 0, len(table))
	for _, s := range table {
		if s.Pattern == "" {
			continue
		}
		t = append(t, s)
	}
	return &Parser{table: t}
}

// Table returns a copy of the substitution table in application order.
func (p *Parser) Table() []Substitution {
	return append([]Substitution(nil), p.table...)
}

// Parse derives Metadata from filename. ok is false when the name has fewer
// than four tokens; that is an expected outcome, not an error.
// SourceCategory and URL are left empty for the caller to fill in.
func (p *Parser) Parse(filename string) (md Metadata, ok bool) {
	tokens := strings.Split(stripExt(filename), "_")
	if len(tokens) < minTokens {
		return Metadata{}, false
	}

	last := len(tokens) - 1
	mapped := make([]string, last)
	for i, t := range tokens[:last] {
		mapped[i] = p.substitute(t)
	}

	md = Metadata{
		Group:    mapped[0],
		Member:   mapped[1],
		Category: mapped[2],
		UniqueID: tokens[last],
	}
	if len(mapped) > 3 {
		md.Title = mapped[3]
	}
	if len(mapped) > 4 {
		md.Version = mapped[4]
	}
	return md, true
}

// substitute runs token through every table entry in order. A later entry
// sees the text produced by earlier ones.
func (p *Parser) substitute(token string) string {
	for _, s := range p.table {
		token = strings.ReplaceAll(token, s.Pattern, s.Replacement)
	}
	return token
}

// stripExt removes the final extension from name. Leading dots do not start
// an extension, so ".hidden" is returned unchanged.
func stripExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name
	}
	if strings.Trim(name[:i], ".") == "" {
		return name
	}
	return name[:i]
}

// Assemble parses every entry, drops the ones that do not parse and returns
// the rest ordered by numeric unique id, highest first. Entries with equal
// ids keep their listing order.
func Assemble(p *Parser, entries []Entry) []Metadata {
	out, _ := assemble(p, entries)
	return out
}

// AssembleWithSkipped is Assemble but also reports the names that were
// dropped, in listing order.
func AssembleWithSkipped(p *Parser, entries []Entry) (catalog []Metadata, skipped []string) {
	return assemble(p, entries)
}

func assemble(p *Parser, entries []Entry) ([]Metadata, []string) {
	out := make([]Metadata, 0, len(entries))
	var skipped []string
	for _, e := range entries {
		md, ok := p.Parse(e.Name)
		if !ok {
			skipped = append(skipped, e.Name)
			continue
		}
		md.SourceCategory = e.SourceCategory
		md.URL = e.URL
		out = append(out, md)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return CompareIDs(out[i].UniqueID, out[j].UniqueID) > 0
	})
	return out, skipped
}
