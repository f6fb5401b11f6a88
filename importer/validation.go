package importer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/liamcoop/docforge/binder"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/internal/logger"
)

// ErrInvalidContent wraps every catalog authoring error found before publication.
var ErrInvalidContent = errors.New("invalid catalog content")

const (
	maxClauses   = 200
	maxVariables = 200
	maxIDLength  = 100
)

var (
	codePattern       = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// knownTypes are the variable types the binder and validator understand.
var knownTypes = map[string]bool{
	catalog.TypeString:  true,
	catalog.TypeText:    true,
	catalog.TypeNumber:  true,
	catalog.TypeInteger: true,
	catalog.TypeBoolean: true,
	catalog.TypeDate:    true,
	catalog.TypeEnum:    true,
	catalog.TypeArray:   true,
	catalog.TypeObject:  true,
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidContent, fmt.Sprintf(format, args...))
}

// ValidateTemplate checks a template definition before it is published:
// identifiers, version, clause structure, body syntax, condition syntax,
// cross references and the variable schema.
func ValidateTemplate(t *catalog.Template, conds *conditions.Engine) error {
	if t == nil {
		return invalid("template is empty")
	}
	if !codePattern.MatchString(t.Code) || len(t.Code) > maxIDLength {
		return invalid("template code %q must match %s", t.Code, codePattern)
	}
	if _, err := semver.StrictNewVersion(t.Version); err != nil {
		return invalid("template %s version %q is not a semantic version: %v", t.Code, t.Version, err)
	}
	if strings.TrimSpace(t.Title) == "" {
		return invalid("template %s has no title", t.Code)
	}
	if _, err := binder.Check(t.Title, conds); err != nil {
		return invalid("template %s title: %v", t.Code, err)
	}
	if err := validateList(t.Code, "jurisdiction", t.Jurisdictions); err != nil {
		return err
	}
	if err := validateList(t.Code, "language", t.Languages); err != nil {
		return err
	}

	if len(t.Variables) > maxVariables {
		return invalid("template %s declares %d variables, maximum allowed is %d", t.Code, len(t.Variables), maxVariables)
	}
	for name, spec := range t.Variables {
		if err := validateVariable(name, spec); err != nil {
			return invalid("template %s variable %q: %v", t.Code, name, err)
		}
	}

	if len(t.Clauses) == 0 {
		return invalid("template %s must contain at least one clause", t.Code)
	}
	if len(t.Clauses) > maxClauses {
		return invalid("template %s contains %d clauses, maximum allowed is %d", t.Code, len(t.Clauses), maxClauses)
	}

	ids := make(map[string]bool, len(t.Clauses))
	for _, c := range t.Clauses {
		if err := validateIdentifier(c.ID); err != nil {
			return invalid("template %s clause id %q: %v", t.Code, c.ID, err)
		}
		if ids[c.ID] {
			return invalid("template %s clause id %q is declared twice", t.Code, c.ID)
		}
		ids[c.ID] = true
	}

	for _, c := range t.Clauses {
		if err := validateClause(t.Code, c, ids, t.Variables, conds); err != nil {
			return err
		}
	}

	for _, p := range t.Parties {
		if strings.TrimSpace(p.Label) == "" {
			return invalid("template %s has a party without a label", t.Code)
		}
		if _, ok := catalog.LookupVariable(t.Variables, p.NameVar); !ok {
			return invalid("template %s party %q names undeclared variable %q", t.Code, p.Label, p.NameVar)
		}
	}

	if t.GoverningLaw != "" {
		if err := validateGoverningLaw(t.Variables, t.GoverningLaw); err != nil {
			return invalid("template %s: %v", t.Code, err)
		}
	}
	return nil
}

// ValidateOverlay checks an overlay against the template it patches.
func ValidateOverlay(o *catalog.Overlay, t *catalog.Template, conds *conditions.Engine) error {
	if o == nil {
		return invalid("overlay is empty")
	}
	key := fmt.Sprintf("%s/%s/%s", o.TemplateCode, o.Jurisdiction, o.Language)
	if t == nil {
		return invalid("overlay %s targets unknown template %q", key, o.TemplateCode)
	}
	if !t.SupportsJurisdiction(o.Jurisdiction) {
		return invalid("overlay %s: template does not support jurisdiction %q", key, o.Jurisdiction)
	}
	if o.Language != "" && !t.SupportsLanguage(o.Language) {
		return invalid("overlay %s: template does not support language %q", key, o.Language)
	}
	if len(o.Overrides) == 0 {
		return invalid("overlay %s has no overrides", key)
	}

	ids := make(map[string]bool, len(t.Clauses)+len(o.Overrides))
	for _, c := range t.Clauses {
		ids[c.ID] = true
	}
	for ref, ov := range o.Overrides {
		if ov.Add && !ids[ref] {
			ids[ref] = true
		}
	}

	for ref, ov := range o.Overrides {
		if catalog.IsTopLevelField(ref) {
			if ov.Body == nil {
				return invalid("overlay %s: %s override needs a value", key, ref)
			}
			if ref == catalog.FieldGoverningLaw {
				if err := validateGoverningLaw(t.Variables, *ov.Body); err != nil {
					return invalid("overlay %s: %v", key, err)
				}
			}
			continue
		}

		exists := false
		for _, c := range t.Clauses {
			if c.ID == ref {
				exists = true
				break
			}
		}

		switch {
		case ov.Remove && ov.Add:
			return invalid("overlay %s: clause %q cannot be both added and removed", key, ref)
		case !exists && !ov.Add:
			return invalid("overlay %s: clause %q does not exist in %s (set add: true to introduce it)", key, ref, t.Code)
		case exists && ov.Add:
			return invalid("overlay %s: clause %q already exists in %s", key, ref, t.Code)
		case ov.Add:
			if err := validateIdentifier(ref); err != nil {
				return invalid("overlay %s: clause id %q: %v", key, ref, err)
			}
			if ov.Title == nil || strings.TrimSpace(*ov.Title) == "" || ov.Body == nil {
				return invalid("overlay %s: added clause %q needs a title and a body", key, ref)
			}
		}

		patched := catalog.Clause{ID: ref}
		if ov.Title != nil {
			patched.Title = *ov.Title
		}
		if ov.Subtitle != nil {
			patched.Subtitle = *ov.Subtitle
		}
		if ov.Body != nil {
			patched.Body = *ov.Body
		}
		if ov.Condition != nil {
			patched.Condition = *ov.Condition
		}
		if err := validateClauseText(key, patched, ids, t.Variables, conds); err != nil {
			return err
		}
	}
	return nil
}

func validateList(code, what string, items []string) error {
	if len(items) == 0 {
		return invalid("template %s must support at least one %s", code, what)
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		norm := strings.ToLower(strings.TrimSpace(item))
		if norm == "" {
			return invalid("template %s has an empty %s", code, what)
		}
		if seen[norm] {
			return invalid("template %s lists %s %q twice", code, what, item)
		}
		seen[norm] = true
	}
	return nil
}

func validateClause(owner string, c catalog.Clause, ids map[string]bool, vars map[string]catalog.VariableSpec, conds *conditions.Engine) error {
	if strings.TrimSpace(c.Title) == "" {
		return invalid("%s clause %q has no title", owner, c.ID)
	}
	return validateClauseText(owner, c, ids, vars, conds)
}

// validateClauseText parses title, subtitle and body, compiles the clause
// condition and checks {{ref}} targets. Placeholders naming undeclared
// variables only warn: they bind to the empty string at generation time.
func validateClauseText(owner string, c catalog.Clause, ids map[string]bool, vars map[string]catalog.VariableSpec, conds *conditions.Engine) error {
	for _, part := range []struct{ field, text string }{
		{"title", c.Title},
		{"subtitle", c.Subtitle},
		{"body", c.Body},
	} {
		tmpl, err := binder.Check(part.text, conds)
		if err != nil {
			return invalid("%s clause %q %s: %v", owner, c.ID, part.field, err)
		}
		for _, ref := range tmpl.Refs() {
			if !ids[ref] {
				return invalid("%s clause %q %s references unknown clause %q", owner, c.ID, part.field, ref)
			}
		}
		for _, path := range tmpl.Variables() {
			if _, ok := catalog.LookupVariable(vars, path); !ok {
				logger.Warn("clause references undeclared variable", "owner", owner, "clause", c.ID, "variable", path)
			}
		}
	}

	if c.Condition != "" {
		if _, err := conds.Compile(c.Condition); err != nil {
			return invalid("%s clause %q condition: %v", owner, c.ID, err)
		}
	}
	return nil
}

func validateVariable(name string, spec catalog.VariableSpec) error {
	for _, part := range strings.Split(name, ".") {
		if err := validateIdentifier(part); err != nil {
			return err
		}
	}
	if !knownTypes[spec.Type] {
		return fmt.Errorf("unknown type %q", spec.Type)
	}
	if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
		return fmt.Errorf("min %v is greater than max %v", *spec.Min, *spec.Max)
	}
	if spec.Pattern != "" {
		if _, err := regexp.Compile(spec.Pattern); err != nil {
			return fmt.Errorf("pattern does not compile: %v", err)
		}
	}
	if spec.Type == catalog.TypeEnum && len(spec.Enum) == 0 {
		return fmt.Errorf("enum variable declares no options")
	}

	values := make(map[string]bool, len(spec.Enum))
	for _, opt := range spec.Enum {
		if opt.Value == "" {
			return fmt.Errorf("enum option with empty value")
		}
		if values[opt.Value] {
			return fmt.Errorf("enum option %q declared twice", opt.Value)
		}
		values[opt.Value] = true
	}

	if err := validateDefault(spec); err != nil {
		return err
	}

	if spec.Type == catalog.TypeObject {
		for child, childSpec := range spec.Properties {
			if err := validateVariable(child, childSpec); err != nil {
				return fmt.Errorf("property %q: %w", child, err)
			}
		}
	}
	return nil
}

func validateDefault(spec catalog.VariableSpec) error {
	if spec.Default == nil {
		return nil
	}
	switch spec.Type {
	case catalog.TypeDate:
		s, ok := spec.Default.(string)
		if !ok {
			return fmt.Errorf("date default must be a string")
		}
		if strings.EqualFold(s, catalog.DefaultToday) {
			return nil
		}
		if _, err := time.Parse(binder.ISODate, s); err != nil {
			return fmt.Errorf("date default %q must be %q or YYYY-MM-DD", s, catalog.DefaultToday)
		}
	case catalog.TypeEnum:
		s, ok := spec.Default.(string)
		if !ok {
			return fmt.Errorf("enum default must be a string")
		}
		if _, ok := spec.EnumLabel(s); !ok {
			return fmt.Errorf("enum default %q is not an option", s)
		}
	case catalog.TypeBoolean:
		if _, ok := spec.Default.(bool); !ok {
			return fmt.Errorf("boolean default must be true or false")
		}
	case catalog.TypeNumber, catalog.TypeInteger:
		switch spec.Default.(type) {
		case int, int64, float64, uint64:
		default:
			return fmt.Errorf("%s default must be numeric", spec.Type)
		}
	}
	return nil
}

func validateGoverningLaw(vars map[string]catalog.VariableSpec, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("governing law is empty")
	}
	spec, ok := vars[catalog.GoverningLawVariable]
	if !ok || len(spec.Enum) == 0 {
		return nil
	}
	if _, ok := spec.EnumLabel(value); !ok {
		return fmt.Errorf("governing law %q is not an option of %s", value, catalog.GoverningLawVariable)
	}
	return nil
}

// validateIdentifier validates clause ids and variable names. Variable names
// are condition identifiers, so reserved words are rejected.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIDLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIDLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s", identifierPattern)
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

func isReservedKeyword(name string) bool {
	switch name {
	case "true", "false", "null",
		"if", "else", "for", "while", "break", "continue", "return",
		"var", "let", "const", "function",
		"in", "as", "import", "package", "namespace", "loop", "void",
		conditions.IncludedVar:
		return true
	}
	return false
}
