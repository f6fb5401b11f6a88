package docgen

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/docforge/answers"
	"github.com/liamcoop/docforge/artifacts"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

var fixedNow = func() time.Time { return time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC) }

// countingStore records overlay lookups made against the wrapped store
type countingStore struct {
	catalog.Store
	mu      sync.Mutex
	lookups int
}

func (s *countingStore) GetOverlay(ctx context.Context, code, jurisdiction, language string) (*catalog.Overlay, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	return s.Store.GetOverlay(ctx, code, jurisdiction, language)
}

func (s *countingStore) overlayLookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// stubConverter returns a canned PDF or error
type stubConverter struct {
	out []byte
	err error
}

func (c stubConverter) ConvertHTML(ctx context.Context, html []byte, opts render.Options) ([]byte, error) {
	return c.out, c.err
}

func fixtureStore(t *testing.T) *catalog.InMemoryStore {
	t.Helper()

	bundle, err := catalog.LoadDir("../catalog/testdata")
	if err != nil {
		t.Fatalf("LoadDir() failed: %v", err)
	}
	store := catalog.NewInMemoryStore()
	ctx := context.Background()
	for _, tmpl := range bundle.Templates {
		if err := store.PublishTemplate(ctx, tmpl); err != nil {
			t.Fatalf("PublishTemplate() failed: %v", err)
		}
	}
	for _, o := range bundle.Overlays {
		if err := store.PutOverlay(ctx, o); err != nil {
			t.Fatalf("PutOverlay() failed: %v", err)
		}
	}
	return store
}

func newService(store catalog.Store, pdf render.PDFConverter, opts ...Option) *Service {
	opts = append([]Option{WithClock(fixedNow)}, opts...)
	return New(resolver.New(store), conditions.MustNewEngine(), render.NewRenderer(pdf), opts...)
}

func ndaRequest(personalData bool) Request {
	return Request{
		UserID:       "user-1",
		TemplateCode: "NDA_MUTUAL_V1",
		Jurisdiction: "UK",
		Language:     "en",
		Format:       render.FormatHTML,
		Answers: map[string]any{
			"first_party_name":             "Acme Ltd",
			"confidentiality_period_years": 5,
			"includes_personal_data":       personalData,
			"governing_law":                "england_wales",
		},
	}
}

func sectionsTitled(doc *ResolvedDocument, title string) []render.Section {
	var out []render.Section
	for _, s := range doc.Sections {
		if s.Title == title {
			out = append(out, s)
		}
	}
	return out
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v (%T), want *docgen.Error", err, err)
	}
	return e
}

// TestGenerateRoundTrip verifies the UK NDA example and the numbering shift
// when the data protection clause is switched on
func TestGenerateRoundTrip(t *testing.T) {
	svc := newService(fixtureStore(t), nil)
	ctx := context.Background()

	without, err := svc.Generate(ctx, ndaRequest(false))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	law := sectionsTitled(without.Document, "Governing Law")
	if len(law) != 1 {
		t.Fatalf("Governing Law sections = %d, want 1", len(law))
	}
	if !strings.HasSuffix(law[0].Body, "the laws of England and Wales.") {
		t.Errorf("Governing Law body = %q", law[0].Body)
	}
	if n := len(sectionsTitled(without.Document, "Data Protection Compliance")); n != 0 {
		t.Errorf("Data Protection Compliance sections = %d, want 0", n)
	}
	if !strings.Contains(string(without.Bytes), "the laws of England and Wales.") {
		t.Error("rendered html should contain the governing law text")
	}
	if without.ContentType != "text/html; charset=utf-8" {
		t.Errorf("ContentType = %q", without.ContentType)
	}
	if without.Document.GoverningLaw != "England and Wales" {
		t.Errorf("GoverningLaw = %q", without.Document.GoverningLaw)
	}

	with, err := svc.Generate(ctx, ndaRequest(true))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	if got, want := len(with.Document.Sections), len(without.Document.Sections)+1; got != want {
		t.Errorf("sections = %d, want %d", got, want)
	}
	dp := sectionsTitled(with.Document, "Data Protection Compliance")
	if len(dp) != 1 {
		t.Fatalf("Data Protection Compliance sections = %d, want 1", len(dp))
	}
	if !strings.Contains(dp[0].Body, "UK GDPR") {
		t.Errorf("overlay body not applied: %q", dp[0].Body)
	}

	termBefore := sectionsTitled(without.Document, "Term and Termination")[0]
	termAfter := sectionsTitled(with.Document, "Term and Termination")[0]
	if termAfter.Number != termBefore.Number+1 {
		t.Errorf("Term number = %d, want %d", termAfter.Number, termBefore.Number+1)
	}
	if !strings.Contains(termAfter.Body, "save that clause 3 survives termination") {
		t.Errorf("cross reference not bound: %q", termAfter.Body)
	}
	if strings.Contains(termBefore.Body, "survives termination") {
		t.Errorf("inline block should be omitted: %q", termBefore.Body)
	}

	for i, s := range with.Document.Sections {
		if s.Number != i+1 {
			t.Errorf("section %s number = %d, want %d", s.ClauseID, s.Number, i+1)
		}
	}
}

// TestGenerateJurisdictionFallback verifies the jurisdiction-only overlay and
// its added clause
func TestGenerateJurisdictionFallback(t *testing.T) {
	svc := newService(fixtureStore(t), nil)
	req := ndaRequest(true)
	req.Jurisdiction = "US-CA"
	delete(req.Answers, "governing_law")

	res, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	var ids []string
	for _, s := range res.Document.Sections {
		ids = append(ids, s.ClauseID)
	}
	want := []string{"definitions", "obligations", "data_protection", "ccpa_notice", "term", "governing_law", "jurisdiction"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("sections = %v, want %v", ids, want)
	}
	if res.Document.GoverningLaw != "the State of California" {
		t.Errorf("GoverningLaw = %q", res.Document.GoverningLaw)
	}
}

// TestGenerateRejectsUnsupportedJurisdiction verifies XX fails before any overlay lookup
func TestGenerateRejectsUnsupportedJurisdiction(t *testing.T) {
	store := &countingStore{Store: fixtureStore(t)}
	svc := newService(store, nil)

	req := ndaRequest(false)
	req.Jurisdiction = "XX"
	_, err := svc.Generate(context.Background(), req)

	e := asError(t, err)
	if e.Kind != KindBadInput || e.Code != CodeUnsupportedJurisdiction {
		t.Errorf("error = %s/%s, want bad_input/%s", e.Kind, e.Code, CodeUnsupportedJurisdiction)
	}
	if e.CorrelationID != "" {
		t.Error("bad input errors carry no correlation id")
	}
	if store.overlayLookups() != 0 {
		t.Errorf("overlay lookups = %d, want 0", store.overlayLookups())
	}
	if e.HTTPStatus() != 400 {
		t.Errorf("HTTPStatus() = %d", e.HTTPStatus())
	}
}

// TestGenerateBadInput verifies user-correctable failures
func TestGenerateBadInput(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Request)
		wantCode string
		status   int
	}{
		{"Unknown template", func(r *Request) { r.TemplateCode = "NOPE" }, CodeTemplateNotFound, 404},
		{"Unsupported language", func(r *Request) { r.Language = "fr" }, CodeUnsupportedLanguage, 400},
		{"Unsupported format", func(r *Request) { r.Format = "rtf" }, CodeUnsupportedFormat, 400},
		{"PDF not configured", func(r *Request) { r.Format = render.FormatPDF }, CodeUnsupportedFormat, 400},
		{"Bad page size", func(r *Request) { r.Options.PageSize = "A5" }, CodeInvalidOptions, 400},
		{"Missing required", func(r *Request) { delete(r.Answers, "first_party_name") }, CodeInvalidAnswers, 422},
		{"Out of range", func(r *Request) { r.Answers["confidentiality_period_years"] = 50 }, CodeInvalidAnswers, 422},
	}

	svc := newService(fixtureStore(t), nil)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := ndaRequest(false)
			tc.mutate(&req)

			res, err := svc.Generate(context.Background(), req)
			if res != nil {
				t.Error("failed generation returned a result")
			}
			e := asError(t, err)
			if e.Kind != KindBadInput || e.Code != tc.wantCode {
				t.Errorf("error = %s/%s, want bad_input/%s", e.Kind, e.Code, tc.wantCode)
			}
			if e.HTTPStatus() != tc.status {
				t.Errorf("HTTPStatus() = %d, want %d", e.HTTPStatus(), tc.status)
			}
		})
	}
}

// TestGenerateMissingRequiredFields verifies field-level detail
func TestGenerateMissingRequiredFields(t *testing.T) {
	svc := newService(fixtureStore(t), nil)
	req := ndaRequest(false)
	req.Answers = map[string]any{"first_party_name": "  "}

	_, err := svc.Generate(context.Background(), req)
	e := asError(t, err)

	want := []answers.FieldError{
		{Field: "confidentiality_period_years", Constraint: answers.ConstraintRequired},
		{Field: "first_party_name", Constraint: answers.ConstraintRequired},
	}
	if len(e.Fields) != len(want) {
		t.Fatalf("Fields = %+v, want %d entries", e.Fields, len(want))
	}
	for i, f := range e.Fields {
		if f.Field != want[i].Field || f.Constraint != want[i].Constraint {
			t.Errorf("Fields[%d] = %s/%s, want %s/%s", i, f.Field, f.Constraint, want[i].Field, want[i].Constraint)
		}
	}
}

// TestGenerateOptionalDegradesGracefully verifies absent optional answers fall
// back to defaults or empty text
func TestGenerateOptionalDegradesGracefully(t *testing.T) {
	svc := newService(fixtureStore(t), nil)

	res, err := svc.Generate(context.Background(), ndaRequest(false))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	defs := sectionsTitled(res.Document, "Definitions")[0]
	if !strings.Contains(defs.Body, "all non-public information") {
		t.Errorf("else branch missing: %q", defs.Body)
	}
	if !strings.Contains(defs.Body, "on or after 5 March 2024") {
		t.Errorf("computed default date missing: %q", defs.Body)
	}

	if len(res.Document.Parties) != 2 {
		t.Fatalf("parties = %d", len(res.Document.Parties))
	}
	if !res.Document.Parties[0].Present || res.Document.Parties[1].Present {
		t.Errorf("parties presence = %v/%v, want true/false", res.Document.Parties[0].Present, res.Document.Parties[1].Present)
	}
	if n := strings.Count(string(res.Bytes), `class="signature-block"`); n != 1 {
		t.Errorf("signature blocks = %d, want 1", n)
	}

	req := ndaRequest(false)
	req.Answers["second_party_name"] = "Beta Inc"
	res, err = svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if n := strings.Count(string(res.Bytes), `class="signature-block"`); n != 2 {
		t.Errorf("signature blocks = %d, want 2", n)
	}
}

// TestGenerateBlankAnswersTakeDefaults verifies blank optional answers are
// treated like absent ones
func TestGenerateBlankAnswersTakeDefaults(t *testing.T) {
	svc := newService(fixtureStore(t), nil)

	req := ndaRequest(false)
	req.Answers["effective_date"] = ""
	req.Answers["second_party_name"] = "  "

	res, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	defs := sectionsTitled(res.Document, "Definitions")[0]
	if !strings.Contains(defs.Body, "on or after 5 March 2024.") {
		t.Errorf("computed default date missing: %q", defs.Body)
	}
	if len(defs.Unresolved) != 0 {
		t.Errorf("Unresolved = %v, want none", defs.Unresolved)
	}
	if res.Document.Parties[1].Present {
		t.Error("blank second party name should not make the party present")
	}
	if n := strings.Count(string(res.Bytes), `class="signature-block"`); n != 1 {
		t.Errorf("signature blocks = %d, want 1", n)
	}
}

// TestGenerateTemplateSyntaxError verifies broken catalog content is a system failure
func TestGenerateTemplateSyntaxError(t *testing.T) {
	store := catalog.NewInMemoryStore()
	err := store.PublishTemplate(context.Background(), &catalog.Template{
		Code:          "BROKEN",
		Version:       "1.0.0",
		Title:         "Broken",
		Jurisdictions: []string{"UK"},
		Languages:     []string{"en"},
		Clauses: []catalog.Clause{
			{ID: "one", Title: "One", Body: "{{#if flag}}never closed"},
		},
	})
	if err != nil {
		t.Fatalf("PublishTemplate() failed: %v", err)
	}

	svc := newService(store, nil)
	_, err = svc.Generate(context.Background(), Request{TemplateCode: "BROKEN", Jurisdiction: "UK", Language: "en"})

	e := asError(t, err)
	if e.Kind != KindSystem || e.Code != CodeTemplateSyntax {
		t.Errorf("error = %s/%s, want system/%s", e.Kind, e.Code, CodeTemplateSyntax)
	}
	if e.CorrelationID == "" {
		t.Error("system errors need a correlation id")
	}
	if strings.Contains(e.Message, "never closed") || e.Message != systemMessage {
		t.Errorf("Message = %q, want the generic message", e.Message)
	}
	if e.HTTPStatus() != 500 {
		t.Errorf("HTTPStatus() = %d", e.HTTPStatus())
	}
}

// TestGeneratePDF verifies conversion success and retryable failures
func TestGeneratePDF(t *testing.T) {
	store := fixtureStore(t)

	ok := newService(store, stubConverter{out: []byte("%PDF-1.7")})
	req := ndaRequest(false)
	req.Format = "PDF"
	res, err := ok.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if res.Format != render.FormatPDF || res.ContentType != "application/pdf" {
		t.Errorf("result = %s %s", res.Format, res.ContentType)
	}

	failing := newService(store, stubConverter{err: &render.ConversionError{StatusCode: 503, Retryable: true, Err: errors.New("busy")}})
	_, err = failing.Generate(context.Background(), req)
	e := asError(t, err)
	if e.Kind != KindSystem || e.Code != CodeRenderFailed || !e.Retryable {
		t.Errorf("error = %s/%s retryable=%v", e.Kind, e.Code, e.Retryable)
	}
	if e.HTTPStatus() != 503 {
		t.Errorf("HTTPStatus() = %d, want 503", e.HTTPStatus())
	}
}

// TestGenerateStoresArtifact verifies the artifact reference matches the bytes
func TestGenerateStoresArtifact(t *testing.T) {
	store := artifacts.NewMemoryStore()
	svc := newService(fixtureStore(t), nil, WithArtifacts(store))

	req := ndaRequest(false)
	req.Format = render.FormatDOCX
	res, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if res.ArtifactRef != artifacts.Ref(res.Bytes) {
		t.Errorf("ArtifactRef = %s", res.ArtifactRef)
	}
	got, err := store.Get(context.Background(), res.ArtifactRef)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ContentType != render.FormatDOCX.ContentType() {
		t.Errorf("ContentType = %s", got.ContentType)
	}
}

// TestGenerateDoesNotMutateAnswers verifies the caller's answers are untouched
func TestGenerateDoesNotMutateAnswers(t *testing.T) {
	svc := newService(fixtureStore(t), nil)
	req := ndaRequest(true)
	before := map[string]any{}
	for k, v := range req.Answers {
		before[k] = v
	}

	if _, err := svc.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if !reflect.DeepEqual(req.Answers, before) {
		t.Errorf("answers mutated: %v", req.Answers)
	}
}

// TestPreviewKeepsNumberingWithUnorderedAddition verifies an overlay clause
// without an explicit order is numbered after the base sections
func TestPreviewKeepsNumberingWithUnorderedAddition(t *testing.T) {
	store := fixtureStore(t)
	ctx := context.Background()

	uk, err := store.GetOverlay(ctx, "NDA_MUTUAL_V1", "UK", "en")
	if err != nil {
		t.Fatalf("GetOverlay() failed: %v", err)
	}
	title, body := "UK Addendum", "Notices under this Agreement may be served by email."
	uk.Overrides["uk_addendum"] = catalog.Override{Add: true, Title: &title, Body: &body}
	if err := store.PutOverlay(ctx, uk); err != nil {
		t.Fatalf("PutOverlay() failed: %v", err)
	}

	doc, err := newService(store, nil).Preview(ctx, ndaRequest(false))
	if err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}

	var got []string
	for _, sec := range doc.Sections {
		got = append(got, sec.Heading())
	}
	want := []string{
		"1. Definitions",
		"2. Confidentiality Obligations",
		"3. Term and Termination",
		"4. Governing Law",
		"5. Jurisdiction",
		"6. UK Addendum",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sections = %v, want %v", got, want)
	}
}

// TestPreviewReportsUnresolved verifies preview binds partial answers
func TestPreviewReportsUnresolved(t *testing.T) {
	svc := newService(fixtureStore(t), nil)
	req := ndaRequest(false)
	delete(req.Answers, "confidentiality_period_years")

	doc, err := svc.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("Preview() failed: %v", err)
	}

	obligations := sectionsTitled(doc, "Confidentiality Obligations")[0]
	if !reflect.DeepEqual(obligations.Unresolved, []string{"confidentiality_period_years"}) {
		t.Errorf("Unresolved = %v", obligations.Unresolved)
	}
	if !strings.Contains(obligations.Body, "for  years") {
		t.Errorf("Body = %q", obligations.Body)
	}
}

// TestClassify verifies mapping of wrapped sentinel errors
func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	e := Classify(errors.New("connection refused"))
	if e.Kind != KindSystem || e.Code != CodeInternal || e.CorrelationID == "" {
		t.Errorf("unknown error = %+v", e)
	}
	if Classify(e) != e {
		t.Error("an *Error should be returned unchanged")
	}

	timeout := Classify(context.DeadlineExceeded)
	if timeout.Code != CodeTimeout || !timeout.Retryable || timeout.HTTPStatus() != 504 {
		t.Errorf("timeout = %+v", timeout)
	}

	if !IsBadInput(Classify(catalog.ErrTemplateNotFound)) {
		t.Error("template not found should be bad input")
	}
}
