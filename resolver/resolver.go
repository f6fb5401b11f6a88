// Package resolver turns (template code, jurisdiction, language) into a single
// merged template definition by applying the best matching overlay.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/internal/logger"
)

// Resolver fetches templates and overlays from a catalog store and merges
// them. Results are cached read-through when a cache is configured.
type Resolver struct {
	store catalog.Store
	cache Cache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables read-through caching of resolved templates.
func WithCache(cache Cache) Option {
	return func(r *Resolver) { r.cache = cache }
}

// New creates a resolver over store.
func New(store catalog.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the merged template for the key. Jurisdiction and language
// are validated against the base template before any overlay is looked up.
func (r *Resolver) Resolve(ctx context.Context, code, jurisdiction, language string) (*ResolvedTemplate, error) {
	key := NewKey(code, jurisdiction, language)

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			logger.CacheHits.Add(1)
			return cached, nil
		}
		logger.CacheMisses.Add(1)
	}

	tmpl, err := r.store.GetTemplate(ctx, key.Code)
	if err != nil {
		return nil, err
	}

	if !tmpl.SupportsJurisdiction(key.Jurisdiction) {
		return nil, fmt.Errorf("%w: %s does not support %q", ErrUnsupportedJurisdiction, key.Code, jurisdiction)
	}
	if !tmpl.SupportsLanguage(key.Language) {
		return nil, fmt.Errorf("%w: %s does not support %q", ErrUnsupportedLanguage, key.Code, language)
	}

	overlay, source, err := r.findOverlay(ctx, key)
	if err != nil {
		return nil, err
	}

	resolved := Merge(tmpl, overlay, key)
	resolved.OverlaySource = source

	if r.cache != nil {
		r.cache.Set(ctx, key, resolved)
	}
	return resolved, nil
}

// Invalidate drops every cached resolution of a template code.
func (r *Resolver) Invalidate(ctx context.Context, code string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateTemplate(ctx, code)
}

// findOverlay walks the fallback chain: exact key, then jurisdiction-only,
// then no overlay.
func (r *Resolver) findOverlay(ctx context.Context, key Key) (*catalog.Overlay, OverlaySource, error) {
	overlay, err := r.store.GetOverlay(ctx, key.Code, key.Jurisdiction, key.Language)
	if err == nil {
		return overlay, OverlayExact, nil
	}
	if !errors.Is(err, catalog.ErrOverlayNotFound) {
		return nil, "", err
	}

	if key.Language != "" {
		overlay, err = r.store.GetOverlay(ctx, key.Code, key.Jurisdiction, "")
		if err == nil {
			return overlay, OverlayJurisdiction, nil
		}
		if !errors.Is(err, catalog.ErrOverlayNotFound) {
			return nil, "", err
		}
	}

	return nil, OverlayNone, nil
}

// Merge applies overlay to a copy of tmpl. A nil overlay yields the base
// template unchanged. Overrides apply in key order so that the result does
// not depend on map iteration.
func Merge(tmpl *catalog.Template, overlay *catalog.Overlay, key Key) *ResolvedTemplate {
	base := tmpl.Clone()

	resolved := &ResolvedTemplate{
		Code:          base.Code,
		Version:       base.Version,
		Title:         base.Title,
		Description:   base.Description,
		Jurisdiction:  key.Jurisdiction,
		Language:      key.Language,
		GoverningLaw:  base.GoverningLaw,
		OverlaySource: OverlayNone,
		Parties:       append([]catalog.PartySpec(nil), base.PartySpecs()...),
		Clauses:       base.Clauses,
		Variables:     base.Variables,
	}
	if resolved.Variables == nil {
		resolved.Variables = map[string]catalog.VariableSpec{}
	}

	if overlay == nil {
		return resolved
	}

	keys := make([]string, 0, len(overlay.Overrides))
	for k := range overlay.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, ref := range keys {
		ov := overlay.Overrides[ref]
		if catalog.IsTopLevelField(ref) {
			applyTopLevel(resolved, ref, ov)
			continue
		}
		applyClause(resolved, ref, ov)
	}
	return resolved
}

func applyTopLevel(r *ResolvedTemplate, field string, ov catalog.Override) {
	if ov.Body == nil {
		return
	}
	value := *ov.Body

	switch field {
	case catalog.FieldTitle:
		r.Title = value
	case catalog.FieldDescription:
		r.Description = value
	case catalog.FieldGoverningLaw:
		r.GoverningLaw = value
		if spec, ok := r.Variables[catalog.GoverningLawVariable]; ok {
			spec.Default = value
			r.Variables[catalog.GoverningLawVariable] = spec
		}
	}
}

func applyClause(r *ResolvedTemplate, ref string, ov catalog.Override) {
	idx := -1
	for i, c := range r.Clauses {
		if c.ID == ref {
			idx = i
			break
		}
	}

	if idx < 0 {
		if !ov.Add {
			// import rejects dangling references; this only happens with
			// content written around the importer
			logger.Warn("overlay references unknown clause", "template", r.Code, "jurisdiction", r.Jurisdiction, "clause", ref)
			return
		}
		if ov.Remove {
			return
		}
		clause := catalog.Clause{ID: ref, JurisdictionOnly: true}
		patchClause(&clause, ov)
		r.Clauses = append(r.Clauses, clause)
		return
	}

	if ov.Remove {
		r.Clauses = append(r.Clauses[:idx], r.Clauses[idx+1:]...)
		return
	}
	patchClause(&r.Clauses[idx], ov)
}

func patchClause(c *catalog.Clause, ov catalog.Override) {
	if ov.Title != nil {
		c.Title = *ov.Title
	}
	if ov.Subtitle != nil {
		c.Subtitle = *ov.Subtitle
	}
	if ov.Body != nil {
		c.Body = *ov.Body
	}
	if ov.Order != nil {
		order := *ov.Order
		c.Order = &order
	}
	if ov.Condition != nil {
		c.Condition = *ov.Condition
	}
}
