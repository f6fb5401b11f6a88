package docgen

import (
	"bytes"
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/liamcoop/docforge/render"
)

// TestGenerateDeterminism verifies identical requests yield byte-identical output.
// Property: Generate(req) == Generate(req) for html and docx, across two services
func TestGenerateDeterminism(t *testing.T) {
	store := fixtureStore(t)
	first := newService(store, nil)
	second := newService(store, nil)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("generation is deterministic", prop.ForAll(
		func(name string, years int, personal bool, counterparty string, jurisdiction string) bool {
			answers := map[string]any{
				"first_party_name":             "Co " + name,
				"confidentiality_period_years": years,
				"includes_personal_data":       personal,
				"confidential_info_types":      []any{"financial", "trade_secrets"},
			}
			if counterparty != "" {
				answers["second_party_name"] = counterparty
			}

			for _, format := range []render.Format{render.FormatHTML, render.FormatDOCX} {
				req := Request{
					TemplateCode: "NDA_MUTUAL_V1",
					Jurisdiction: jurisdiction,
					Language:     "en",
					Answers:      answers,
					Format:       format,
				}
				a, errA := first.Generate(context.Background(), req)
				b, errB := second.Generate(context.Background(), req)
				if errA != nil || errB != nil {
					return false
				}
				if !bytes.Equal(a.Bytes, b.Bytes) {
					return false
				}
			}
			return true
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) < 150 }),
		gen.IntRange(1, 10),
		gen.Bool(),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) < 200 }),
		gen.OneConstOf("UK", "US-CA", "US-NY"),
	))

	properties.TestingRun(t)
}
