// Package catalog holds the legal template catalog: templates, their clauses and
// variable schemas, and the jurisdiction overlays that patch them.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variable types understood by the binder and the answer validator.
const (
	TypeString  = "string"
	TypeText    = "text"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeEnum    = "enum"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Top-level overlay fields. Any other override key is a clause reference.
const (
	FieldGoverningLaw = "governingLaw"
	FieldTitle        = "title"
	FieldDescription  = "description"
)

// GoverningLawVariable is the variable whose default a governingLaw override replaces.
const GoverningLawVariable = "governing_law"

// DefaultToday is the computed default for date variables.
const DefaultToday = "today"

// IsTopLevelField reports whether an override key targets template metadata
// rather than a clause.
func IsTopLevelField(key string) bool {
	switch key {
	case FieldGoverningLaw, FieldTitle, FieldDescription:
		return true
	}
	return false
}

// Template is a published legal document definition. A published version is
// never mutated; publishing a new version supersedes it.
type Template struct {
	Code          string                  `json:"code" yaml:"code"`
	Version       string                  `json:"version,omitempty" yaml:"version,omitempty"`
	Title         string                  `json:"title" yaml:"title"`
	Description   string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Jurisdictions []string                `json:"jurisdictions" yaml:"jurisdictions"`
	Languages     []string                `json:"languages" yaml:"languages"`
	GoverningLaw  string                  `json:"governingLaw,omitempty" yaml:"governingLaw,omitempty"`
	Parties       []PartySpec             `json:"parties,omitempty" yaml:"parties,omitempty"`
	Clauses       []Clause                `json:"clauses" yaml:"clauses"`
	Variables     map[string]VariableSpec `json:"variableSchema,omitempty" yaml:"variableSchema,omitempty"`
}

// Clause is a titled content unit. ID is the stable reference overlays patch.
type Clause struct {
	ID               string `json:"id" yaml:"id"`
	Title            string `json:"title" yaml:"title"`
	Subtitle         string `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Body             string `json:"bodyTemplate" yaml:"bodyTemplate"`
	Order            *int   `json:"order,omitempty" yaml:"order,omitempty"`
	Condition        string `json:"condition,omitempty" yaml:"condition,omitempty"`
	JurisdictionOnly bool   `json:"jurisdictionOnly,omitempty" yaml:"jurisdictionOnly,omitempty"`
}

// PartySpec names the answer variables that describe one contracting party.
type PartySpec struct {
	Label        string `json:"label" yaml:"label"`
	NameVar      string `json:"name" yaml:"name"`
	AddressVar   string `json:"address,omitempty" yaml:"address,omitempty"`
	SignatoryVar string `json:"signatory,omitempty" yaml:"signatory,omitempty"`
}

// DefaultParties is used when a template declares no parties.
var DefaultParties = []PartySpec{
	{Label: "Party A", NameVar: "first_party_name", AddressVar: "first_party_address", SignatoryVar: "first_party_signatory"},
	{Label: "Party B", NameVar: "second_party_name", AddressVar: "second_party_address", SignatoryVar: "second_party_signatory"},
}

// VariableSpec describes one questionnaire variable. Min and Max bound string
// length, numeric value or array size depending on Type.
type VariableSpec struct {
	Type       string                  `json:"type" yaml:"type"`
	Required   bool                    `json:"required,omitempty" yaml:"required,omitempty"`
	Default    any                     `json:"default,omitempty" yaml:"default,omitempty"`
	Enum       []EnumOption            `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pattern    string                  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min        *float64                `json:"min,omitempty" yaml:"min,omitempty"`
	Max        *float64                `json:"max,omitempty" yaml:"max,omitempty"`
	Labels     *BoolLabels             `json:"labels,omitempty" yaml:"labels,omitempty"`
	Label      string                  `json:"label,omitempty" yaml:"label,omitempty"`
	Hint       string                  `json:"hint,omitempty" yaml:"hint,omitempty"`
	Widget     string                  `json:"widget,omitempty" yaml:"widget,omitempty"`
	Order      int                     `json:"order,omitempty" yaml:"order,omitempty"`
	Properties map[string]VariableSpec `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// EnumLabel returns the human-readable label for a raw enum value.
func (v VariableSpec) EnumLabel(value string) (string, bool) {
	for _, opt := range v.Enum {
		if opt.Value == value {
			return opt.DisplayLabel(), true
		}
	}
	return "", false
}

// BoolLabel returns the render label for a boolean answer.
func (v VariableSpec) BoolLabel(b bool) string {
	labels := BoolLabels{True: "Yes", False: "No"}
	if v.Labels != nil {
		if v.Labels.True != "" {
			labels.True = v.Labels.True
		}
		if v.Labels.False != "" {
			labels.False = v.Labels.False
		}
	}
	if b {
		return labels.True
	}
	return labels.False
}

// BoolLabels are the words a boolean answer renders as.
type BoolLabels struct {
	True  string `json:"true" yaml:"true"`
	False string `json:"false" yaml:"false"`
}

// EnumOption is one allowed enum value. In catalog files a bare string is
// accepted and used as both value and label.
type EnumOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// DisplayLabel returns Label, falling back to Value.
func (o EnumOption) DisplayLabel() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Value
}

func (o *EnumOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = EnumOption{Value: s}
		return nil
	}
	type plain EnumOption
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("enum option: %w", err)
	}
	*o = EnumOption(p)
	return nil
}

func (o *EnumOption) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*o = EnumOption{Value: node.Value}
		return nil
	}
	type plain EnumOption
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("enum option: %w", err)
	}
	*o = EnumOption(p)
	return nil
}

// Overlay is a jurisdiction (and optionally language) specific patch to a
// template. An empty Language marks a jurisdiction-only overlay.
type Overlay struct {
	TemplateCode string              `json:"templateCode" yaml:"templateCode"`
	Jurisdiction string              `json:"jurisdiction" yaml:"jurisdiction"`
	Language     string              `json:"language,omitempty" yaml:"language,omitempty"`
	Overrides    map[string]Override `json:"overrides" yaml:"overrides"`
}

// Override replaces fields of the clause it targets. For top-level fields only
// Body is meaningful. Add allows the override to introduce a clause the base
// template does not have.
type Override struct {
	Title     *string `json:"title,omitempty" yaml:"title,omitempty"`
	Subtitle  *string `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Body      *string `json:"bodyTemplate,omitempty" yaml:"bodyTemplate,omitempty"`
	Order     *int    `json:"order,omitempty" yaml:"order,omitempty"`
	Condition *string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Remove    bool    `json:"remove,omitempty" yaml:"remove,omitempty"`
	Add       bool    `json:"add,omitempty" yaml:"add,omitempty"`
}

func (o *Override) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = Override{Body: &s}
		return nil
	}
	type plain Override
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("override: %w", err)
	}
	*o = Override(p)
	return nil
}

func (o *Override) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s := node.Value
		*o = Override{Body: &s}
		return nil
	}
	type plain Override
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("override: %w", err)
	}
	*o = Override(p)
	return nil
}

// SupportsJurisdiction reports whether the template may be generated for j.
func (t *Template) SupportsJurisdiction(j string) bool {
	return containsFold(t.Jurisdictions, j)
}

// SupportsLanguage reports whether the template may be generated in lang.
func (t *Template) SupportsLanguage(lang string) bool {
	return containsFold(t.Languages, lang)
}

// PartySpecs returns the declared parties or DefaultParties.
func (t *Template) PartySpecs() []PartySpec {
	if len(t.Parties) > 0 {
		return t.Parties
	}
	return DefaultParties
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// LookupVariable finds the spec for a dotted path, either declared flat
// ("partyA.name") or nested through object properties.
func LookupVariable(vars map[string]VariableSpec, path string) (VariableSpec, bool) {
	if spec, ok := vars[path]; ok {
		return spec, true
	}
	parts := strings.Split(path, ".")
	spec, ok := vars[parts[0]]
	if !ok {
		return VariableSpec{}, false
	}
	for _, part := range parts[1:] {
		next, ok := spec.Properties[part]
		if !ok {
			return VariableSpec{}, false
		}
		spec = next
	}
	return spec, true
}

// Unanswered reports whether an answer value counts as not given: null, a
// blank string or an empty list.
func Unanswered(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}

// NormalizeJurisdiction and NormalizeLanguage give overlay keys a canonical case.
func NormalizeJurisdiction(j string) string { return strings.ToUpper(strings.TrimSpace(j)) }

func NormalizeLanguage(lang string) string { return strings.ToLower(strings.TrimSpace(lang)) }
