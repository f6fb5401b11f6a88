package binder

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"github.com/liamcoop/docforge/catalog"
)

// ISODate is the wire format for date answers and the fallback render layout.
const ISODate = "2006-01-02"

// locale carries the language-dependent formatting for one bind call.
type locale struct {
	tag        language.Tag
	dateLayout string
	and        string
	printer    *message.Printer
}

func newLocale(lang string) locale {
	tag, err := language.Parse(lang)
	if err != nil || lang == "" {
		tag = language.English
	}

	base, _ := tag.Base()
	region, conf := tag.Region()

	l := locale{tag: tag, dateLayout: ISODate, and: "and"}
	switch base.String() {
	case "en":
		l.dateLayout = "2 January 2006"
		if conf == language.Exact && region.String() == "US" {
			l.dateLayout = "January 2, 2006"
		}
	case "fr":
		l.dateLayout = "02/01/2006"
		l.and = "et"
	case "de":
		l.dateLayout = "02.01.2006"
		l.and = "und"
	case "es":
		l.dateLayout = "02/01/2006"
		l.and = "y"
	}
	l.printer = message.NewPrinter(tag)
	return l
}

// formatValue stringifies an answer according to its schema type. spec may be
// the zero value when the path is not declared.
func (l locale) formatValue(v any, spec catalog.VariableSpec) string {
	if v == nil {
		return ""
	}

	switch spec.Type {
	case catalog.TypeDate:
		if s, ok := l.formatDate(v); ok {
			return s
		}
	case catalog.TypeBoolean:
		if b, ok := asBool(v); ok {
			return spec.BoolLabel(b)
		}
	case catalog.TypeEnum:
		if s, ok := v.(string); ok {
			if label, ok := spec.EnumLabel(s); ok {
				return label
			}
		}
	case catalog.TypeArray:
		if items, ok := asSlice(v); ok {
			return l.formatList(items, spec)
		}
	case catalog.TypeInteger:
		// Integers are counts, years or reference numbers: no digit grouping.
		if f, ok := asFloat(v); ok && f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
	}

	switch t := v.(type) {
	case string:
		if spec.Type == catalog.TypeEnum || len(spec.Enum) > 0 {
			if label, ok := spec.EnumLabel(t); ok {
				return label
			}
		}
		return norm.NFC.String(t)
	case bool:
		return spec.BoolLabel(t)
	case time.Time:
		return t.Format(l.dateLayout)
	case []any, []string:
		items, _ := asSlice(t)
		return l.formatList(items, spec)
	case map[string]any:
		return l.formatObject(t)
	}

	if f, ok := asFloat(v); ok {
		return l.formatNumber(f)
	}
	return norm.NFC.String(fmt.Sprint(v))
}

func (l locale) formatDate(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(l.dateLayout), true
	case string:
		if d, err := time.Parse(ISODate, t); err == nil {
			return d.Format(l.dateLayout), true
		}
		if d, err := time.Parse(time.RFC3339, t); err == nil {
			return d.Format(l.dateLayout), true
		}
	}
	return "", false
}

func (l locale) formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return l.printer.Sprintf("%d", int64(f))
	}
	return l.printer.Sprintf("%v", f)
}

// formatList renders items as "a, b and c", using enum labels of the item spec.
func (l locale) formatList(items []any, spec catalog.VariableSpec) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		itemSpec := catalog.VariableSpec{Enum: spec.Enum, Labels: spec.Labels}
		if s := l.formatValue(item, itemSpec); s != "" {
			parts = append(parts, s)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " " + l.and + " " + parts[len(parts)-1]
}

// formatObject renders an unstructured object deterministically as "k: v" pairs.
func (l locale) formatObject(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+l.formatValue(m[k], catalog.VariableSpec{}))
	}
	return strings.Join(parts, ", ")
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
