package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/liamcoop/docforge/artifacts"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/entitlements"
	"github.com/liamcoop/docforge/internal/config"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

const fixtureDir = "../../catalog/testdata"

var fixedNow = func() time.Time { return time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC) }

type testEnv struct {
	server    *Server
	artifacts *artifacts.MemoryStore
}

// newTestServer wires a server on in-memory stores seeded from the fixture
// catalog. mutate may adjust the configuration before the server is built.
func newTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Rate.RPS = 0
	if mutate != nil {
		mutate(&cfg)
	}

	store := catalog.NewInMemoryStore()
	art := artifacts.NewMemoryStore()
	deps := Deps{
		Catalog:      store,
		Resolver:     resolver.New(store, resolver.WithCache(resolver.NewInMemoryCache(resolver.DefaultCacheConfig()))),
		Conditions:   conditions.MustNewEngine(),
		Renderer:     render.NewRenderer(nil),
		Entitlements: entitlements.NewService(entitlements.NewInMemoryStore()).WithClock(fixedNow),
		Artifacts:    art,
		Config:       cfg,
		Now:          fixedNow,
	}
	if err := seedCatalog(context.Background(), fixtureDir, deps); err != nil {
		t.Fatalf("seedCatalog() failed: %v", err)
	}

	srv := NewServer(deps)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, artifacts: art}
}

type requestOption func(*http.Request)

func asUser(id string, roles ...string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("X-User-ID", id)
		if len(roles) > 0 {
			r.Header.Set("X-User-Roles", strings.Join(roles, ","))
		}
	}
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:54321"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func ndaBody(answers map[string]any) GenerateRequest {
	if answers == nil {
		answers = map[string]any{
			"first_party_name":             "Acme Ltd",
			"confidentiality_period_years": 5,
		}
	}
	return GenerateRequest{
		TemplateCode: "NDA_MUTUAL_V1",
		Jurisdiction: "UK",
		Language:     "en",
		Answers:      answers,
	}
}

func grant(t *testing.T, env *testEnv, userID, entitlement string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/entitlements/events", EntitlementEventRequest{
		EventID:     "evt_" + userID + "_" + entitlement,
		UserID:      userID,
		Entitlement: entitlement,
	}, asUser("payments", roleAdmin))
	expectStatus(t, rec, http.StatusCreated)
}

// TestHealth verifies the health endpoint reports the loaded catalog
func TestHealth(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, rec, http.StatusOK)

	health := decode[HealthResponse](t, rec)
	if health.Status != "healthy" || health.Templates != 1 {
		t.Errorf("health = %+v", health)
	}
}

// TestTemplates verifies listing, detail and not found
func TestTemplates(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/templates", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decode[TemplatesListResponse](t, rec)
	if len(list.Templates) != 1 || list.Templates[0].Code != "NDA_MUTUAL_V1" || list.Templates[0].Version != "1.0.0" {
		t.Fatalf("templates = %+v", list.Templates)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/templates/NDA_MUTUAL_V1", nil)
	expectStatus(t, rec, http.StatusOK)
	detail := decode[TemplateDetailResponse](t, rec)
	if len(detail.Clauses) != 6 {
		t.Fatalf("clauses = %d, want 6", len(detail.Clauses))
	}
	if detail.Clauses[2].ID != "data_protection" || !detail.Clauses[2].Conditional {
		t.Errorf("clause 3 = %+v", detail.Clauses[2])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/templates/MISSING", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

// TestQuestions verifies questions for the base template and for an overlay
func TestQuestions(t *testing.T) {
	env := newTestServer(t, nil)

	find := func(qs QuestionsResponse, name string) (any, bool) {
		for _, q := range qs.Questions {
			if q.Name == name {
				return q.Default, true
			}
		}
		return nil, false
	}

	rec := env.do(t, http.MethodGet, "/api/v1/templates/NDA_MUTUAL_V1/questions", nil)
	expectStatus(t, rec, http.StatusOK)
	base := decode[QuestionsResponse](t, rec)
	if len(base.Questions) != 9 {
		t.Fatalf("questions = %d, want 9", len(base.Questions))
	}
	if base.Questions[0].Name != "first_party_name" {
		t.Errorf("first question = %s", base.Questions[0].Name)
	}
	if def, _ := find(base, "governing_law"); def != nil {
		t.Errorf("base governing_law default = %v, want none", def)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/templates/NDA_MUTUAL_V1/questions?jurisdiction=us-ca", nil)
	expectStatus(t, rec, http.StatusOK)
	ca := decode[QuestionsResponse](t, rec)
	if ca.Jurisdiction != "US-CA" || ca.Language != "en" {
		t.Errorf("resolved key = %s/%s", ca.Jurisdiction, ca.Language)
	}
	if def, _ := find(ca, "governing_law"); def != "california" {
		t.Errorf("US-CA governing_law default = %v, want california", def)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/templates/NDA_MUTUAL_V1/questions?jurisdiction=XX", nil)
	expectStatus(t, rec, http.StatusBadRequest)
	if e := decode[ErrorResponse](t, rec); e.Code != "unsupported_jurisdiction" {
		t.Errorf("code = %s", e.Code)
	}
}

// TestGenerateRequiresAuthentication verifies anonymous callers are rejected
func TestGenerateRequiresAuthentication(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil))
	expectStatus(t, rec, http.StatusUnauthorized)
}

// TestGenerateRequiresEntitlement verifies purchase gating and the artifact
// download of the generated document
func TestGenerateRequiresEntitlement(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil), asUser("alice"))
	expectStatus(t, rec, http.StatusForbidden)

	grant(t, env, "alice", "template:nda_mutual_v1")

	rec = env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil), asUser("alice"))
	expectStatus(t, rec, http.StatusOK)

	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename=nda_mutual_v1.html` {
		t.Errorf("Content-Disposition = %s", cd)
	}
	if !strings.Contains(rec.Body.String(), "the laws of England and Wales.") {
		t.Errorf("body lacks governing law text")
	}

	ref := rec.Header().Get("X-Artifact-Ref")
	if ref != artifacts.Ref(rec.Body.Bytes()) {
		t.Fatalf("X-Artifact-Ref = %q", ref)
	}

	download := env.do(t, http.MethodGet, "/api/v1/artifacts/"+ref, nil, asUser("alice"))
	expectStatus(t, download, http.StatusOK)
	if !bytes.Equal(download.Body.Bytes(), rec.Body.Bytes()) {
		t.Error("downloaded artifact differs from generated document")
	}

	missing := env.do(t, http.MethodGet, "/api/v1/artifacts/sha256:"+strings.Repeat("0", 64), nil, asUser("alice"))
	expectStatus(t, missing, http.StatusNotFound)

	invalid := env.do(t, http.MethodGet, "/api/v1/artifacts/md5:abc", nil, asUser("alice"))
	expectStatus(t, invalid, http.StatusBadRequest)
}

// TestGenerateSubscription verifies a subscription covers any template and
// DOCX output is served with its content type
func TestGenerateSubscription(t *testing.T) {
	env := newTestServer(t, nil)
	grant(t, env, "bob", "subscription:pro")

	body := ndaBody(nil)
	body.Format = render.FormatDOCX
	rec := env.do(t, http.MethodPost, "/api/v1/documents", body, asUser("bob"))
	expectStatus(t, rec, http.StatusOK)

	if ct := rec.Header().Get("Content-Type"); ct != render.FormatDOCX.ContentType() {
		t.Errorf("Content-Type = %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("DOCX body is not a zip package")
	}
	if env.artifacts.Len() != 1 {
		t.Errorf("artifacts stored = %d, want 1", env.artifacts.Len())
	}
}

// TestGenerateErrors verifies the mapping of pipeline errors onto responses
func TestGenerateErrors(t *testing.T) {
	env := newTestServer(t, nil)
	grant(t, env, "carol", "subscription:pro")

	testCases := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing required answers",
			body:       ndaBody(map[string]any{}),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_answers",
		},
		{
			name: "unsupported jurisdiction",
			body: func() GenerateRequest {
				b := ndaBody(nil)
				b.Jurisdiction = "XX"
				return b
			}(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "unsupported_jurisdiction",
		},
		{
			name: "unknown template",
			body: func() GenerateRequest {
				b := ndaBody(nil)
				b.TemplateCode = "LEASE_V9"
				return b
			}(),
			wantStatus: http.StatusNotFound,
			wantCode:   "template_not_found",
		},
		{
			name: "pdf without converter",
			body: func() GenerateRequest {
				b := ndaBody(nil)
				b.Format = render.FormatPDF
				return b
			}(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "unsupported_format",
		},
		{
			name: "bad page size",
			body: func() GenerateRequest {
				b := ndaBody(nil)
				b.Options = render.Options{PageSize: "A3"}
				return b
			}(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_options",
		},
		{
			name:       "malformed body",
			body:       `{"templateCode":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/documents", tc.body, asUser("carol"))
			expectStatus(t, rec, tc.wantStatus)

			resp := decode[ErrorResponse](t, rec)
			if resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
			if resp.CorrelationID != "" {
				t.Errorf("bad input carries correlation id %s", resp.CorrelationID)
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(map[string]any{}), asUser("carol"))
	resp := decode[ErrorResponse](t, rec)
	fields := map[string]string{}
	for _, f := range resp.Fields {
		fields[f.Field] = f.Constraint
	}
	if fields["first_party_name"] != "required" || fields["confidentiality_period_years"] != "required" {
		t.Errorf("fields = %+v", resp.Fields)
	}
}

// TestPreview verifies unresolved placeholders are reported across sections
func TestPreview(t *testing.T) {
	env := newTestServer(t, nil)
	grant(t, env, "dave", "template:NDA_MUTUAL_V1")

	rec := env.do(t, http.MethodPost, "/api/v1/documents/preview",
		ndaBody(map[string]any{"first_party_name": "Acme Ltd"}), asUser("dave"))
	expectStatus(t, rec, http.StatusOK)

	preview := decode[PreviewResponse](t, rec)
	if len(preview.Unresolved) != 1 || preview.Unresolved[0] != "confidentiality_period_years" {
		t.Errorf("unresolved = %v", preview.Unresolved)
	}
	if preview.Document == nil || len(preview.Document.Sections) != 5 {
		t.Fatalf("document = %+v", preview.Document)
	}
	if env.artifacts.Len() != 0 {
		t.Error("preview must not store artifacts")
	}
}

const overlayYAML = `
overlays:
  - templateCode: NDA_MUTUAL_V1
    jurisdiction: US-NY
    overrides:
      governingLaw: new_york
`

// TestImport verifies catalog import authorization, publishing and rejection
func TestImport(t *testing.T) {
	env := newTestServer(t, nil)
	yamlType := withHeader("Content-Type", "application/yaml")

	rec := env.do(t, http.MethodPost, "/api/v1/catalog/import", overlayYAML, asUser("eve"), yamlType)
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPost, "/api/v1/catalog/import", overlayYAML, asUser("ops", roleAdmin), yamlType)
	expectStatus(t, rec, http.StatusOK)
	report := decode[ImportResponse](t, rec)
	if report.Overlays != 1 || len(report.Published) != 0 {
		t.Errorf("report = %+v", report)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/templates/NDA_MUTUAL_V1/questions?jurisdiction=US-NY", nil)
	expectStatus(t, rec, http.StatusOK)
	for _, q := range decode[QuestionsResponse](t, rec).Questions {
		if q.Name == "governing_law" && q.Default != "new_york" {
			t.Errorf("US-NY governing_law default = %v", q.Default)
		}
	}

	bad := `{"overlays":[{"templateCode":"NDA_MUTUAL_V1","jurisdiction":"FR","overrides":{"governingLaw":"england_wales"}}]}`
	rec = env.do(t, http.MethodPost, "/api/v1/catalog/import", bad, asUser("ops", roleAdmin))
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = env.do(t, http.MethodPost, "/api/v1/catalog/import", `{"templates": [`, asUser("ops", roleAdmin))
	expectStatus(t, rec, http.StatusBadRequest)

	conflict := `{"templates":[{"code":"NDA_MUTUAL_V1","version":"1.0.0","title":"Changed","jurisdictions":["UK"],"languages":["en"],"clauses":[{"id":"only","title":"Only","bodyTemplate":"Text."}]}]}`
	rec = env.do(t, http.MethodPost, "/api/v1/catalog/import", conflict, asUser("ops", roleAdmin))
	expectStatus(t, rec, http.StatusConflict)
}

// TestEntitlementEventValidation verifies malformed events are rejected
func TestEntitlementEventValidation(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/entitlements/events", EntitlementEventRequest{
		EventID:     "evt_1",
		UserID:      "alice",
		Entitlement: "coupon:SAVE10",
	}, asUser("payments", roleAdmin))
	expectStatus(t, rec, http.StatusBadRequest)
}

// TestRateLimit verifies the per-IP limiter
func TestRateLimit(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Rate.RPS = 0.001
		cfg.Rate.Burst = 2
	})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
		expectStatus(t, rec, http.StatusOK)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)

	other := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	other.RemoteAddr = "198.51.100.7:1234"
	otherRec := httptest.NewRecorder()
	env.server.ServeHTTP(otherRec, other)
	expectStatus(t, otherRec, http.StatusOK)
}

// TestRateLimiterSweepsIdleVisitors verifies idle entries are dropped by the
// sweep and not by admitting new clients
func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	rl := newIPRateLimiter(config.RateConfig{RPS: 1, Burst: 1})
	defer rl.Stop()

	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl.mu.Lock()
	rl.now = func() time.Time { return now }
	rl.mu.Unlock()

	rl.allow("192.0.2.1")
	now = now.Add(visitorTTL + time.Second)
	rl.allow("192.0.2.2")

	rl.mu.Lock()
	admitted := len(rl.visitors)
	rl.mu.Unlock()
	if admitted != 2 {
		t.Fatalf("visitors before sweep = %d, want 2", admitted)
	}

	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["192.0.2.1"]; ok {
		t.Error("idle visitor was not swept")
	}
	if _, ok := rl.visitors["192.0.2.2"]; !ok {
		t.Error("active visitor was swept")
	}
}

// TestRateLimiterStop verifies the sweep loop exits and Stop is idempotent
func TestRateLimiterStop(t *testing.T) {
	rl := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    1,
		burst:    1,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		rl.sweepLoop(time.Millisecond)
		close(done)
	}()

	rl.Stop()
	rl.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// TestJWTAuthentication verifies bearer token verification
func TestJWTAuthentication(t *testing.T) {
	const secret = "test-secret"
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = secret
		cfg.Auth.Issuer = "docforge-test"
	})

	valid := func(sub string, roles ...string) string {
		return signToken(t, secret, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				Issuer:    "docforge-test",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Roles: roles,
		})
	}
	bearer := func(token string) requestOption {
		return withHeader("Authorization", "Bearer "+token)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/entitlements/events", EntitlementEventRequest{
		EventID: "evt_jwt", UserID: "frank", Entitlement: "subscription:pro",
	}, bearer(valid("payments", roleAdmin)))
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil), bearer(valid("frank")))
	expectStatus(t, rec, http.StatusOK)

	testCases := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "frank", Issuer: "docforge-test"}})},
		{"wrong issuer", signToken(t, secret, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "frank", Issuer: "elsewhere"}})},
		{"expired", signToken(t, secret, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "frank", Issuer: "docforge-test", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}})},
		{"no subject", signToken(t, secret, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "docforge-test"}})},
		{"garbage", "not-a-token"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil), bearer(tc.token))
			expectStatus(t, rec, http.StatusUnauthorized)
		})
	}

	rec = env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil), asUser("frank"))
	expectStatus(t, rec, http.StatusUnauthorized)
}

// TestMetrics verifies counters are exposed
func TestMetrics(t *testing.T) {
	env := newTestServer(t, nil)
	grant(t, env, "gina", "subscription:pro")
	env.do(t, http.MethodPost, "/api/v1/documents", ndaBody(nil), asUser("gina"))

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	expectStatus(t, rec, http.StatusOK)

	metrics := decode[map[string]int64](t, rec)
	if metrics["documents_generated_total"] < 1 {
		t.Errorf("documents_generated_total = %d", metrics["documents_generated_total"])
	}
	if _, ok := metrics["http_429_total"]; !ok {
		t.Error("http_429_total missing")
	}
}
