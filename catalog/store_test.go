package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func sampleTemplate(version string) *Template {
	return &Template{
		Code:          "NDA_MUTUAL_V1",
		Version:       version,
		Title:         "Mutual NDA",
		Jurisdictions: []string{"UK"},
		Languages:     []string{"en"},
		Clauses: []Clause{
			{ID: "definitions", Title: "Definitions", Body: "..."},
		},
		Variables: map[string]VariableSpec{
			"first_party_name": {Type: TypeString, Required: true},
		},
	}
}

// TestStoreInterfaceExists verifies InMemoryStore and PostgresStore implement the catalog interfaces
func TestStoreInterfaceExists(t *testing.T) {
	var _ Store = (*InMemoryStore)(nil)
	var _ Publisher = (*InMemoryStore)(nil)
	var _ Store = (*PostgresStore)(nil)
	var _ Publisher = (*PostgresStore)(nil)
}

// TestInMemoryStorePublishAndGet verifies the last published version is active
func TestInMemoryStorePublishAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.PublishTemplate(ctx, sampleTemplate("1.0.0")); err != nil {
		t.Fatalf("PublishTemplate() failed: %v", err)
	}
	v2 := sampleTemplate("1.1.0")
	v2.Title = "Mutual NDA (2024)"
	if err := store.PublishTemplate(ctx, v2); err != nil {
		t.Fatalf("PublishTemplate() failed: %v", err)
	}

	got, err := store.GetTemplate(ctx, "NDA_MUTUAL_V1")
	if err != nil {
		t.Fatalf("GetTemplate() failed: %v", err)
	}
	if got.Version != "1.1.0" || got.Title != "Mutual NDA (2024)" {
		t.Errorf("GetTemplate() = %s %q, want 1.1.0", got.Version, got.Title)
	}
}

// TestInMemoryStoreDuplicateVersion verifies published versions are immutable
func TestInMemoryStoreDuplicateVersion(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.PublishTemplate(ctx, sampleTemplate("1.0.0")); err != nil {
		t.Fatalf("PublishTemplate() failed: %v", err)
	}
	if err := store.PublishTemplate(ctx, sampleTemplate("1.0.0")); err == nil {
		t.Error("publishing the same version twice should fail")
	}
}

// TestInMemoryStoreIsolation verifies callers cannot mutate stored templates
func TestInMemoryStoreIsolation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	tmpl := sampleTemplate("1.0.0")
	if err := store.PublishTemplate(ctx, tmpl); err != nil {
		t.Fatalf("PublishTemplate() failed: %v", err)
	}
	tmpl.Clauses[0].Title = "mutated after publish"

	got, _ := store.GetTemplate(ctx, "NDA_MUTUAL_V1")
	if got.Clauses[0].Title != "Definitions" {
		t.Errorf("stored template changed through caller pointer: %q", got.Clauses[0].Title)
	}

	got.Variables["first_party_name"] = VariableSpec{Type: TypeNumber}
	again, _ := store.GetTemplate(ctx, "NDA_MUTUAL_V1")
	if again.Variables["first_party_name"].Type != TypeString {
		t.Error("stored template changed through returned copy")
	}
}

// TestInMemoryStoreNotFound verifies missing lookups return the sentinel errors
func TestInMemoryStoreNotFound(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.GetTemplate(ctx, "MISSING"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetTemplate() error = %v, want ErrTemplateNotFound", err)
	}
	if _, err := store.GetOverlay(ctx, "MISSING", "UK", "en"); !errors.Is(err, ErrOverlayNotFound) {
		t.Errorf("GetOverlay() error = %v, want ErrOverlayNotFound", err)
	}
}

// TestInMemoryStoreOverlayKeys verifies overlay keys are case-normalized and language may be empty
func TestInMemoryStoreOverlayKeys(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	body := "england_wales"
	exact := &Overlay{TemplateCode: "NDA_MUTUAL_V1", Jurisdiction: "uk", Language: "EN", Overrides: map[string]Override{FieldGoverningLaw: {Body: &body}}}
	jurOnly := &Overlay{TemplateCode: "NDA_MUTUAL_V1", Jurisdiction: "US-CA", Overrides: map[string]Override{}}

	for _, o := range []*Overlay{exact, jurOnly} {
		if err := store.PutOverlay(ctx, o); err != nil {
			t.Fatalf("PutOverlay() failed: %v", err)
		}
	}

	got, err := store.GetOverlay(ctx, "NDA_MUTUAL_V1", "UK", "en")
	if err != nil {
		t.Fatalf("GetOverlay() failed: %v", err)
	}
	if got.Jurisdiction != "UK" || got.Language != "en" {
		t.Errorf("overlay key = %s/%s, want UK/en", got.Jurisdiction, got.Language)
	}

	if _, err := store.GetOverlay(ctx, "NDA_MUTUAL_V1", "US-CA", ""); err != nil {
		t.Errorf("jurisdiction-only overlay lookup failed: %v", err)
	}
	if _, err := store.GetOverlay(ctx, "NDA_MUTUAL_V1", "US-CA", "en"); !errors.Is(err, ErrOverlayNotFound) {
		t.Errorf("exact lookup should not fall back inside the store, got %v", err)
	}
}

// TestInMemoryStoreListTemplates verifies listing is ordered by code
func TestInMemoryStoreListTemplates(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, code := range []string{"SERVICES_V1", "NDA_MUTUAL_V1", "EMPLOYMENT_V1"} {
		tmpl := sampleTemplate("1.0.0")
		tmpl.Code = code
		if err := store.PublishTemplate(ctx, tmpl); err != nil {
			t.Fatalf("PublishTemplate() failed: %v", err)
		}
	}

	list, err := store.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates() failed: %v", err)
	}
	want := []string{"EMPLOYMENT_V1", "NDA_MUTUAL_V1", "SERVICES_V1"}
	if len(list) != len(want) {
		t.Fatalf("ListTemplates() returned %d templates, want %d", len(list), len(want))
	}
	for i, tmpl := range list {
		if tmpl.Code != want[i] {
			t.Errorf("ListTemplates()[%d] = %s, want %s", i, tmpl.Code, want[i])
		}
	}
}

// TestInMemoryStoreConcurrentAccess verifies concurrent reads during publication
func TestInMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_ = store.PublishTemplate(ctx, sampleTemplate("1.0.0"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := store.GetTemplate(ctx, "NDA_MUTUAL_V1"); err != nil {
				t.Errorf("GetTemplate() failed: %v", err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			tmpl := sampleTemplate(fmt.Sprintf("2.0.%d", i))
			_ = store.PublishTemplate(ctx, tmpl)
		}(i)
	}
	wg.Wait()
}
