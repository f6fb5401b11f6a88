// Package render produces the output formats of a bound document: HTML, a
// WordprocessingML (DOCX) package built from the same structure, and PDF via
// an external HTML-to-PDF converter.
package render

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for formats the renderer cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ErrInvalidOptions is returned for unknown page sizes or out of range margins.
var ErrInvalidOptions = errors.New("invalid render options")

// Format is an output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatHTML:
		return FormatHTML, nil
	case FormatDOCX:
		return FormatDOCX, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the MIME type of a format.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Extension returns the file extension of a format, without the dot.
func (f Format) Extension() string { return string(f) }

// PageSize is the paper size for the PDF print step.
type PageSize string

const (
	PageA4     PageSize = "A4"
	PageLetter PageSize = "Letter"
)

// Margins are in millimetres.
type Margins struct {
	Top    float64 `json:"top" yaml:"top"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Left   float64 `json:"left" yaml:"left"`
}

// Options affect only the HTML to PDF print step, never section content.
type Options struct {
	PageSize PageSize `json:"pageSize,omitempty" yaml:"pageSize,omitempty"`
	Margins  *Margins `json:"margins,omitempty" yaml:"margins,omitempty"`
}

// DefaultMargins are 20mm all round.
var DefaultMargins = Margins{Top: 20, Right: 20, Bottom: 20, Left: 20}

// Normalize fills defaults and rejects unknown page sizes.
func (o Options) Normalize() (Options, error) {
	switch {
	case o.PageSize == "":
		o.PageSize = PageA4
	case strings.EqualFold(string(o.PageSize), string(PageA4)):
		o.PageSize = PageA4
	case strings.EqualFold(string(o.PageSize), string(PageLetter)):
		o.PageSize = PageLetter
	default:
		return o, fmt.Errorf("%w: unsupported page size %q", ErrInvalidOptions, o.PageSize)
	}
	if o.Margins == nil {
		m := DefaultMargins
		o.Margins = &m
	}
	for _, v := range []float64{o.Margins.Top, o.Margins.Right, o.Margins.Bottom, o.Margins.Left} {
		if v < 0 || v > 100 {
			return o, fmt.Errorf("%w: margin %.1fmm out of range", ErrInvalidOptions, v)
		}
	}
	return o, nil
}

// Party is one contracting party as it appears in the parties and signature
// blocks.
type Party struct {
	Label     string `json:"label"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	Signatory string `json:"signatory,omitempty"`

	// Present is true when any answer describing the party was supplied.
	Present bool `json:"present"`
}

// Section is one numbered, fully bound clause.
type Section struct {
	Number   int    `json:"number"`
	ClauseID string `json:"clauseId"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Body     string `json:"body"`

	// Unresolved lists placeholders bound to the empty string. Diagnostic only.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Heading is the numbered section title used by every format.
func (s Section) Heading() string {
	return fmt.Sprintf("%d. %s", s.Number, s.Title)
}

// Document is the ordered, bound content of one generation.
type Document struct {
	Title        string    `json:"title"`
	TemplateCode string    `json:"templateCode"`
	Version      string    `json:"version,omitempty"`
	Jurisdiction string    `json:"jurisdiction"`
	Language     string    `json:"language"`
	GoverningLaw string    `json:"governingLaw,omitempty"`
	Parties      []Party   `json:"parties"`
	Sections     []Section `json:"sections"`
}

// Signatories applies the signature block rule: the first party always signs,
// the second only when answers about it were supplied. Further parties sign
// when present.
func (d *Document) Signatories() []Party {
	var out []Party
	for i, p := range d.Parties {
		if i == 0 || p.Present {
			out = append(out, p)
		}
	}
	return out
}

// ListedParties are the parties shown in the parties block.
func (d *Document) ListedParties() []Party {
	return d.Signatories()
}

// Paragraphs splits text on blank lines, dropping empty paragraphs.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lines splits a paragraph on single line breaks.
func Lines(paragraph string) []string {
	return strings.Split(paragraph, "\n")
}
