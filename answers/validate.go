// Package answers validates questionnaire answers against a template's
// variable schema before any document is generated.
package answers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/liamcoop/docforge/catalog"
)

// ErrInvalidAnswers is wrapped by every *ValidationError.
var ErrInvalidAnswers = errors.New("invalid answers")

// Constraint names reported in FieldError.
const (
	ConstraintRequired = "required"
	ConstraintType     = "type"
	ConstraintMin      = "min"
	ConstraintMax      = "max"
	ConstraintPattern  = "pattern"
	ConstraintEnum     = "enum"
	ConstraintFormat   = "format"
)

// FieldError is one failed constraint on one answer.
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

// ValidationError lists every failed constraint, sorted by field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("%v: %s", ErrInvalidAnswers, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAnswers }

const schemaURL = "https://docforge.local/schemas/answers.json"

// Validator compiles variable schemas to JSON Schema and caches them by
// content hash. Safe for concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
	mu      sync.RWMutex
}

// NewValidator creates a validator with an empty schema cache.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Validate checks that every required variable is present and non-empty and
// that every supplied value satisfies its constraints. It returns nil or a
// *ValidationError; any other error means the variable schema itself is
// broken.
func (v *Validator) Validate(vars map[string]catalog.VariableSpec, answers map[string]any) error {
	normalized, err := normalize(answers)
	if err != nil {
		return &ValidationError{Fields: []FieldError{{Field: "", Constraint: ConstraintType, Message: "answers are not valid JSON values"}}}
	}

	var fields []FieldError
	for _, name := range sortedNames(vars) {
		if vars[name].Required && isEmpty(lookup(normalized, name)) {
			fields = append(fields, FieldError{Field: name, Constraint: ConstraintRequired, Message: "is required"})
		}
	}

	schema, err := v.compile(vars)
	if err != nil {
		return err
	}

	if err := schema.Validate(normalized); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return fmt.Errorf("validate answers: %w", err)
		}
		fields = append(fields, fieldErrors(verr, vars)...)
	}

	if len(fields) == 0 {
		return nil
	}
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Field != fields[j].Field {
			return fields[i].Field < fields[j].Field
		}
		return fields[i].Constraint < fields[j].Constraint
	})
	return &ValidationError{Fields: dedupe(fields)}
}

func (v *Validator) compile(vars map[string]catalog.VariableSpec) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(SchemaFor(vars))
	if err != nil {
		return nil, fmt.Errorf("encode answer schema: %w", err)
	}
	sum := sha256.Sum256(doc)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	schema, ok := v.schemas[key]
	v.mu.RUnlock()
	if ok {
		return schema, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to load answer schema: %w", err)
	}
	schema, err = c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer schema: %w", err)
	}

	v.mu.Lock()
	v.schemas[key] = schema
	v.mu.Unlock()
	return schema, nil
}

// SchemaFor builds the JSON Schema document for a variable schema. Presence is
// checked separately so that empty strings count as missing.
func SchemaFor(vars map[string]catalog.VariableSpec) map[string]any {
	props := make(map[string]any, len(vars))
	for name, spec := range vars {
		if strings.Contains(name, ".") {
			continue
		}
		props[name] = propertySchema(spec)
	}
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
}

func propertySchema(spec catalog.VariableSpec) map[string]any {
	s := map[string]any{}

	switch spec.Type {
	case catalog.TypeString, catalog.TypeText, "":
		s["type"] = "string"
		setBound(s, "minLength", spec.Min)
		setBound(s, "maxLength", spec.Max)
		if spec.Pattern != "" {
			s["pattern"] = spec.Pattern
		}
	case catalog.TypeNumber, catalog.TypeInteger:
		s["type"] = spec.Type
		setBound(s, "minimum", spec.Min)
		setBound(s, "maximum", spec.Max)
	case catalog.TypeBoolean:
		s["type"] = "boolean"
	case catalog.TypeDate:
		s["type"] = "string"
		s["anyOf"] = []any{
			map[string]any{"format": "date"},
			map[string]any{"format": "date-time"},
		}
	case catalog.TypeEnum:
		s["enum"] = enumValues(spec.Enum)
	case catalog.TypeArray:
		s["type"] = "array"
		setBound(s, "minItems", spec.Min)
		setBound(s, "maxItems", spec.Max)
		if len(spec.Enum) > 0 {
			s["items"] = map[string]any{"enum": enumValues(spec.Enum)}
		}
	case catalog.TypeObject:
		s["type"] = "object"
		props := make(map[string]any, len(spec.Properties))
		var required []string
		for name, p := range spec.Properties {
			props[name] = propertySchema(p)
			if p.Required {
				required = append(required, name)
			}
		}
		s["properties"] = props
		if len(required) > 0 {
			sort.Strings(required)
			s["required"] = required
		}
	}

	if len(spec.Enum) > 0 && spec.Type != catalog.TypeEnum && spec.Type != catalog.TypeArray {
		s["enum"] = enumValues(spec.Enum)
	}
	return s
}

func setBound(s map[string]any, keyword string, bound *float64) {
	if bound != nil {
		s[keyword] = *bound
	}
}

func enumValues(opts []catalog.EnumOption) []any {
	out := make([]any, len(opts))
	for i, o := range opts {
		out[i] = o.Value
	}
	return out
}

// normalize converts answers to the JSON value model the validator expects
// and drops nulls and blank strings, which count as unanswered.
func normalize(answers map[string]any) (map[string]any, error) {
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		if catalog.Unanswered(v) {
			delete(out, k)
		}
	}
	return out, nil
}

func lookup(answers map[string]any, path string) any {
	if v, ok := answers[path]; ok {
		return v
	}
	var cur any = answers
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func isEmpty(v any) bool {
	if m, ok := v.(map[string]any); ok {
		return len(m) == 0
	}
	return catalog.Unanswered(v)
}

// fieldErrors flattens the validator's error tree into one entry per leaf.
func fieldErrors(verr *jsonschema.ValidationError, vars map[string]catalog.VariableSpec) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		field := strings.ReplaceAll(strings.TrimPrefix(e.InstanceLocation, "/"), "/", ".")
		keyword := e.KeywordLocation[strings.LastIndex(e.KeywordLocation, "/")+1:]
		constraint := constraintName(keyword)
		out = append(out, FieldError{
			Field:      field,
			Constraint: constraint,
			Message:    message(constraint, field, vars, e.Message),
		})
	}
	walk(verr)
	return out
}

func constraintName(keyword string) string {
	switch keyword {
	case "minLength", "minimum", "minItems", "exclusiveMinimum":
		return ConstraintMin
	case "maxLength", "maximum", "maxItems", "exclusiveMaximum":
		return ConstraintMax
	case "pattern":
		return ConstraintPattern
	case "enum":
		return ConstraintEnum
	case "format":
		return ConstraintFormat
	case "required":
		return ConstraintRequired
	}
	return ConstraintType
}

func message(constraint, field string, vars map[string]catalog.VariableSpec, fallback string) string {
	spec, _ := catalog.LookupVariable(vars, field)
	switch constraint {
	case ConstraintEnum:
		labels := make([]string, len(spec.Enum))
		for i, o := range spec.Enum {
			labels[i] = o.Value
		}
		if len(labels) > 0 {
			return "must be one of " + strings.Join(labels, ", ")
		}
	case ConstraintFormat:
		return "must be a date (YYYY-MM-DD)"
	case ConstraintPattern:
		return "does not match the required format"
	}
	return fallback
}

func dedupe(fields []FieldError) []FieldError {
	out := fields[:0]
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		k := f.Field + "\x00" + f.Constraint
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

func sortedNames(vars map[string]catalog.VariableSpec) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
