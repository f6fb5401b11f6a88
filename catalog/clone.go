package catalog

// Clone returns a deep copy so callers can patch a template without touching
// the published definition.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Jurisdictions = append([]string(nil), t.Jurisdictions...)
	c.Languages = append([]string(nil), t.Languages...)
	c.Parties = append([]PartySpec(nil), t.Parties...)
	c.Clauses = make([]Clause, len(t.Clauses))
	for i, cl := range t.Clauses {
		c.Clauses[i] = cl.Clone()
	}
	c.Variables = CloneVariables(t.Variables)
	return &c
}

// Clone returns a copy of the clause with its own Order pointer.
func (c Clause) Clone() Clause {
	if c.Order != nil {
		o := *c.Order
		c.Order = &o
	}
	return c
}

// CloneVariables deep-copies a variable schema.
func CloneVariables(vars map[string]VariableSpec) map[string]VariableSpec {
	if vars == nil {
		return nil
	}
	out := make(map[string]VariableSpec, len(vars))
	for name, spec := range vars {
		out[name] = spec.Clone()
	}
	return out
}

// Clone deep-copies the spec, including nested properties and the default value.
func (v VariableSpec) Clone() VariableSpec {
	v.Default = CloneValue(v.Default)
	v.Enum = append([]EnumOption(nil), v.Enum...)
	if v.Min != nil {
		m := *v.Min
		v.Min = &m
	}
	if v.Max != nil {
		m := *v.Max
		v.Max = &m
	}
	if v.Labels != nil {
		l := *v.Labels
		v.Labels = &l
	}
	v.Properties = CloneVariables(v.Properties)
	return v
}

// Clone deep-copies the overlay.
func (o *Overlay) Clone() *Overlay {
	if o == nil {
		return nil
	}
	c := *o
	c.Overrides = make(map[string]Override, len(o.Overrides))
	for k, v := range o.Overrides {
		c.Overrides[k] = v
	}
	return &c
}

// CloneValue deep-copies JSON-like values (maps, slices, scalars).
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
