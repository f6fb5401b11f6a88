package resolver

import (
	"errors"

	"github.com/liamcoop/docforge/catalog"
)

var (
	// ErrUnsupportedJurisdiction is returned when the template does not list the jurisdiction.
	ErrUnsupportedJurisdiction = errors.New("unsupported jurisdiction")

	// ErrUnsupportedLanguage is returned when the template does not list the language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// OverlaySource records which lookup of the fallback chain matched.
type OverlaySource string

const (
	OverlayExact        OverlaySource = "exact"
	OverlayJurisdiction OverlaySource = "jurisdiction"
	OverlayNone         OverlaySource = "none"
)

// ResolvedTemplate is a template with its overlay merged in. It is
// self-contained: clause text already carries the overlay content and only
// answer substitution remains.
type ResolvedTemplate struct {
	Code          string                          `json:"code"`
	Version       string                          `json:"version,omitempty"`
	Title         string                          `json:"title"`
	Description   string                          `json:"description,omitempty"`
	Jurisdiction  string                          `json:"jurisdiction"`
	Language      string                          `json:"language"`
	GoverningLaw  string                          `json:"governingLaw,omitempty"`
	OverlaySource OverlaySource                   `json:"overlaySource"`
	Parties       []catalog.PartySpec             `json:"parties"`
	Clauses       []catalog.Clause                `json:"clauses"`
	Variables     map[string]catalog.VariableSpec `json:"variableSchema,omitempty"`
}

// Clone returns a deep copy so cached values are never shared with callers.
func (r *ResolvedTemplate) Clone() *ResolvedTemplate {
	if r == nil {
		return nil
	}
	c := *r
	c.Parties = append([]catalog.PartySpec(nil), r.Parties...)
	c.Clauses = make([]catalog.Clause, len(r.Clauses))
	for i, cl := range r.Clauses {
		c.Clauses[i] = cl.Clone()
	}
	c.Variables = catalog.CloneVariables(r.Variables)
	return &c
}

// Key identifies one resolution.
type Key struct {
	Code         string
	Jurisdiction string
	Language     string
}

// NewKey builds a normalized key.
func NewKey(code, jurisdiction, language string) Key {
	return Key{
		Code:         code,
		Jurisdiction: catalog.NormalizeJurisdiction(jurisdiction),
		Language:     catalog.NormalizeLanguage(language),
	}
}
