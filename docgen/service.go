// Package docgen is the document generation pipeline: it resolves a template
// for a jurisdiction and language, validates the answers, selects and numbers
// clauses, binds the answers into the text and renders the requested format.
package docgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/docforge/answers"
	"github.com/liamcoop/docforge/artifacts"
	"github.com/liamcoop/docforge/binder"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/evaluator"
	"github.com/liamcoop/docforge/internal/logger"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

// ResolvedDocument is the ordered, bound content of one generation.
type ResolvedDocument = render.Document

// Request is one generation call. UserID is the authenticated caller; the
// caller is expected to have confirmed entitlement already.
type Request struct {
	UserID       string         `json:"-"`
	TemplateCode string         `json:"templateCode"`
	Jurisdiction string         `json:"jurisdiction"`
	Language     string         `json:"language"`
	Answers      map[string]any `json:"answers"`
	Format       render.Format  `json:"format"`
	Options      render.Options `json:"options"`
}

// Result is a generated document.
type Result struct {
	Document    *ResolvedDocument
	Bytes       []byte
	ContentType string
	Format      render.Format

	// ArtifactRef is set when an artifact store is configured.
	ArtifactRef string
}

// Service runs the pipeline. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	resolver  *resolver.Resolver
	evaluator *evaluator.Evaluator
	binder    *binder.Binder
	validator *answers.Validator
	renderer  *render.Renderer
	artifacts artifacts.Store
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the generation clock used for computed defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithArtifacts persists every rendered output to store.
func WithArtifacts(store artifacts.Store) Option {
	return func(s *Service) { s.artifacts = store }
}

// New wires a service. conds is shared by the evaluator and the binder so
// compiled conditions are cached once.
func New(res *resolver.Resolver, conds *conditions.Engine, renderer *render.Renderer, opts ...Option) *Service {
	s := &Service{
		resolver:  res,
		evaluator: evaluator.New(conds),
		validator: answers.NewValidator(),
		renderer:  renderer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.binder = binder.New(conds, binder.WithClock(s.now))
	return s
}

// Generate produces a finished document. Every failure is returned as *Error.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	format := req.Format
	if format == "" {
		format = render.FormatHTML
	}
	format, err := render.ParseFormat(string(format))
	if err != nil {
		return nil, s.fail(req, err)
	}
	if _, err := req.Options.Normalize(); err != nil {
		return nil, s.fail(req, err)
	}

	doc, err := s.build(ctx, req, true)
	if err != nil {
		return nil, s.fail(req, err)
	}

	out, err := s.renderer.Render(ctx, doc, format, req.Options)
	if err != nil {
		logger.RenderFailures.Add(1)
		return nil, s.fail(req, fmt.Errorf("render %s: %w", format, err))
	}

	result := &Result{
		Document:    doc,
		Bytes:       out,
		ContentType: format.ContentType(),
		Format:      format,
	}

	if s.artifacts != nil {
		ref, err := s.artifacts.Put(ctx, out, result.ContentType)
		if err != nil {
			return nil, s.fail(req, fmt.Errorf("store artifact: %w", err))
		}
		result.ArtifactRef = ref
	}

	logger.DocumentsGenerated.Add(1)
	logger.Info("document generated",
		"template", doc.TemplateCode,
		"version", doc.Version,
		"jurisdiction", doc.Jurisdiction,
		"language", doc.Language,
		"format", format,
		"sections", len(doc.Sections),
		"bytes", len(out),
		"user_id", req.UserID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Preview resolves and binds without validating or rendering, so partially
// answered questionnaires can be inspected. Sections report the placeholders
// that bound to nothing.
func (s *Service) Preview(ctx context.Context, req Request) (*ResolvedDocument, error) {
	doc, err := s.build(ctx, req, false)
	if err != nil {
		return nil, s.fail(req, err)
	}
	return doc, nil
}

func (s *Service) fail(req Request, err error) error {
	e := Classify(err)
	if e.Kind == KindSystem {
		if e.Code == CodeTemplateSyntax {
			logger.TemplateSyntaxErrors.Add(1)
		}
		logger.Error("document generation failed",
			"correlation_id", e.CorrelationID,
			"code", e.Code,
			"template", req.TemplateCode,
			"jurisdiction", req.Jurisdiction,
			"language", req.Language,
			"retryable", e.Retryable,
			"error", e.Err,
		)
		return e
	}
	logger.Debug("document request rejected",
		"code", e.Code,
		"template", req.TemplateCode,
		"jurisdiction", req.Jurisdiction,
		"error", e.Err,
	)
	return e
}

// build runs resolution, validation, evaluation and binding.
func (s *Service) build(ctx context.Context, req Request, validate bool) (*ResolvedDocument, error) {
	frozen := freeze(req.Answers)

	resolved, err := s.resolver.Resolve(ctx, req.TemplateCode, req.Jurisdiction, req.Language)
	if err != nil {
		return nil, err
	}

	if validate {
		if err := s.validator.Validate(resolved.Variables, frozen); err != nil {
			return nil, err
		}
	}

	effective := s.binder.EffectiveAnswers(frozen, resolved.Variables)
	selection := s.evaluator.Evaluate(resolved.Clauses, effective)

	env := binder.Env{
		Answers:   effective,
		Variables: resolved.Variables,
		Language:  resolved.Language,
		Sections:  selection.Numbers(),
	}

	title, err := s.binder.Bind(resolved.Title, env)
	if err != nil {
		return nil, fmt.Errorf("template title: %w", err)
	}

	doc := &ResolvedDocument{
		Title:        title.Text,
		TemplateCode: resolved.Code,
		Version:      resolved.Version,
		Jurisdiction: resolved.Jurisdiction,
		Language:     resolved.Language,
		Sections:     make([]render.Section, 0, len(selection.Sections)),
	}

	for _, sec := range selection.Sections {
		bound, err := s.bindSection(sec, env)
		if err != nil {
			return nil, err
		}
		doc.Sections = append(doc.Sections, bound)
	}

	doc.GoverningLaw, err = s.governingLaw(resolved, env)
	if err != nil {
		return nil, err
	}
	doc.Parties, err = s.parties(resolved, frozen, env)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) bindSection(sec evaluator.Section, env binder.Env) (render.Section, error) {
	out := render.Section{Number: sec.Number, ClauseID: sec.Clause.ID}

	var unresolved []string
	seen := map[string]bool{}
	bind := func(field, text string) (string, error) {
		if text == "" {
			return "", nil
		}
		b, err := s.binder.Bind(text, env)
		if err != nil {
			return "", fmt.Errorf("clause %s %s: %w", sec.Clause.ID, field, err)
		}
		for _, p := range b.Unresolved {
			if !seen[p] {
				seen[p] = true
				unresolved = append(unresolved, p)
			}
		}
		return b.Text, nil
	}

	var err error
	if out.Title, err = bind("title", sec.Clause.Title); err != nil {
		return out, err
	}
	if out.Subtitle, err = bind("subtitle", sec.Clause.Subtitle); err != nil {
		return out, err
	}
	if out.Body, err = bind("body", sec.Clause.Body); err != nil {
		return out, err
	}
	out.Unresolved = unresolved
	return out, nil
}

// governingLaw renders the governing_law variable when the template declares
// one, falling back to the resolved governing-law value.
func (s *Service) governingLaw(resolved *resolver.ResolvedTemplate, env binder.Env) (string, error) {
	spec, declared := resolved.Variables[catalog.GoverningLawVariable]
	if declared {
		b, err := s.binder.Bind("{{"+catalog.GoverningLawVariable+"}}", env)
		if err != nil {
			return "", err
		}
		if b.Text != "" {
			return b.Text, nil
		}
		if label, ok := spec.EnumLabel(resolved.GoverningLaw); ok {
			return label, nil
		}
	}
	return resolved.GoverningLaw, nil
}

// parties binds the party variables. A party is present when the caller
// supplied any answer about it; defaults do not count.
func (s *Service) parties(resolved *resolver.ResolvedTemplate, frozen map[string]any, env binder.Env) ([]render.Party, error) {
	out := make([]render.Party, 0, len(resolved.Parties))
	for _, spec := range resolved.Parties {
		p := render.Party{Label: spec.Label}
		for _, f := range []struct {
			path string
			dst  *string
		}{
			{spec.NameVar, &p.Name},
			{spec.AddressVar, &p.Address},
			{spec.SignatoryVar, &p.Signatory},
		} {
			if f.path == "" {
				continue
			}
			if answered(frozen, f.path) {
				p.Present = true
			}
			b, err := s.binder.Bind("{{"+f.path+"}}", env)
			if err != nil {
				return nil, fmt.Errorf("party %s: %w", spec.Label, err)
			}
			*f.dst = b.Text
		}
		out = append(out, p)
	}
	return out, nil
}

// freeze deep-copies the answers so later stages cannot observe caller
// mutation.
func freeze(in map[string]any) map[string]any {
	out, _ := catalog.CloneValue(map[string]any(in)).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// answered reports whether path holds an answer that is not blank.
func answered(answers map[string]any, path string) bool {
	v, ok := answers[path]
	if !ok {
		var cur any = answers
		for _, part := range strings.Split(path, ".") {
			m, isMap := cur.(map[string]any)
			if !isMap {
				return false
			}
			cur = m[part]
		}
		v = cur
	}
	return !catalog.Unanswered(v)
}
