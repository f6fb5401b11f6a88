// Package questionnaire converts a template's variable schema into the
// ordered list of questions a client presents to the user.
package questionnaire

import (
	"sort"
	"strings"

	"github.com/liamcoop/docforge/catalog"
)

// Option is one selectable answer.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Question describes one input.
type Question struct {
	Name     string     `json:"name"`
	Label    string     `json:"label"`
	Hint     string     `json:"hint,omitempty"`
	Type     string     `json:"type"`
	Widget   string     `json:"widget"`
	Required bool       `json:"required"`
	Default  any        `json:"default,omitempty"`
	Options  []Option   `json:"options,omitempty"`
	Pattern  string     `json:"pattern,omitempty"`
	Min      *float64   `json:"min,omitempty"`
	Max      *float64   `json:"max,omitempty"`
	Fields   []Question `json:"fields,omitempty"`
}

// Build returns the questions for vars ordered by declared order, then name.
// Nested object properties become Fields of their parent question.
func Build(vars map[string]catalog.VariableSpec) []Question {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if strings.Contains(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := vars[names[i]], vars[names[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return names[i] < names[j]
	})

	out := make([]Question, 0, len(names))
	for _, name := range names {
		out = append(out, question(name, vars[name]))
	}
	return out
}

func question(name string, spec catalog.VariableSpec) Question {
	q := Question{
		Name:     name,
		Label:    spec.Label,
		Hint:     spec.Hint,
		Type:     spec.Type,
		Widget:   spec.Widget,
		Required: spec.Required,
		Default:  catalog.CloneValue(spec.Default),
		Pattern:  spec.Pattern,
		Min:      spec.Min,
		Max:      spec.Max,
	}
	if q.Type == "" {
		q.Type = catalog.TypeString
	}
	if q.Label == "" {
		q.Label = humanize(name)
	}
	if q.Widget == "" {
		q.Widget = defaultWidget(q.Type, len(spec.Enum))
	}

	switch q.Type {
	case catalog.TypeBoolean:
		q.Options = []Option{
			{Value: "true", Label: spec.BoolLabel(true)},
			{Value: "false", Label: spec.BoolLabel(false)},
		}
	default:
		for _, opt := range spec.Enum {
			q.Options = append(q.Options, Option{Value: opt.Value, Label: opt.DisplayLabel()})
		}
	}

	if len(spec.Properties) > 0 {
		q.Fields = Build(spec.Properties)
		for i := range q.Fields {
			q.Fields[i].Name = name + "." + q.Fields[i].Name
		}
	}
	return q
}

func defaultWidget(typ string, options int) string {
	switch typ {
	case catalog.TypeText:
		return "textarea"
	case catalog.TypeNumber, catalog.TypeInteger:
		return "number"
	case catalog.TypeBoolean:
		return "radio"
	case catalog.TypeDate:
		return "date"
	case catalog.TypeEnum:
		if options > 4 {
			return "select"
		}
		return "radio"
	case catalog.TypeArray:
		if options > 0 {
			return "checkbox"
		}
		return "list"
	case catalog.TypeObject:
		return "group"
	}
	return "text"
}

// humanize turns snake_case and camelCase names into a sentence-case label.
func humanize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case i > 0 && r >= 'A' && r <= 'Z':
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
