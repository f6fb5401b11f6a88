// Package binder substitutes answers into clause text. Clause bodies use a
// small tag language: {{path}} placeholders, {{#if}}/{{#unless}} blocks whose
// conditions share the clause condition language, and {{ref id}} cross
// references to section numbers.
package binder

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
)

// Env is everything a bind call may read. It is never modified.
type Env struct {
	// Answers should already carry defaults (see Binder.EffectiveAnswers).
	Answers   map[string]any
	Variables map[string]catalog.VariableSpec
	Language  string

	// Sections maps included clause ids to section numbers.
	Sections map[string]int
}

// Bound is the result of binding one piece of text.
type Bound struct {
	Text string

	// Unresolved lists placeholder paths that had neither an answer nor a
	// default and were replaced by the empty string.
	Unresolved []string
}

// Binder binds clause text. Safe for concurrent use.
type Binder struct {
	conds *conditions.Engine
	now   func() time.Time
}

// Option configures a Binder.
type Option func(*Binder)

// WithClock sets the clock used for computed defaults such as "today".
func WithClock(now func() time.Time) Option {
	return func(b *Binder) { b.now = now }
}

// New creates a binder evaluating inline conditions with conds.
func New(conds *conditions.Engine, opts ...Option) *Binder {
	b := &Binder{conds: conds, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Today returns the binder clock's current date in ISO form.
func (b *Binder) Today() string {
	return b.now().UTC().Format(ISODate)
}

// EffectiveAnswers returns a deep copy of answers with schema defaults filled
// in for top-level variables that are unanswered (absent, null, blank or an
// empty list). Computed defaults are resolved against the binder clock.
func (b *Binder) EffectiveAnswers(answers map[string]any, vars map[string]catalog.VariableSpec) map[string]any {
	out := make(map[string]any, len(answers)+len(vars))
	for k, v := range answers {
		out[k] = catalog.CloneValue(v)
	}
	for name, spec := range vars {
		if strings.Contains(name, ".") {
			continue
		}
		if v, ok := out[name]; ok && !catalog.Unanswered(v) {
			continue
		}
		if d, ok := b.defaultFor(spec); ok {
			out[name] = d
		}
	}
	return out
}

func (b *Binder) defaultFor(spec catalog.VariableSpec) (any, bool) {
	if spec.Default == nil {
		return nil, false
	}
	if s, ok := spec.Default.(string); ok && spec.Type == catalog.TypeDate && strings.EqualFold(s, catalog.DefaultToday) {
		return b.Today(), true
	}
	return catalog.CloneValue(spec.Default), true
}

// Bind parses and binds body. Syntax errors, including inline conditions that
// do not parse, are returned as *SyntaxError.
func (b *Binder) Bind(body string, env Env) (Bound, error) {
	tmpl, err := Parse(body)
	if err != nil {
		return Bound{}, err
	}
	return b.Execute(tmpl, env)
}

// Execute binds an already parsed template.
func (b *Binder) Execute(tmpl *Template, env Env) (Bound, error) {
	st := &state{
		binder: b,
		env:    env,
		loc:    newLocale(env.Language),
		seen:   make(map[string]bool),
	}
	var sb strings.Builder
	if err := st.exec(&sb, tmpl.nodes); err != nil {
		return Bound{}, err
	}
	return Bound{Text: sb.String(), Unresolved: st.unresolved}, nil
}

type state struct {
	binder     *Binder
	env        Env
	loc        locale
	vars       map[string]any
	unresolved []string
	seen       map[string]bool
}

func (st *state) exec(sb *strings.Builder, nodes []node) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			sb.WriteString(n.text)

		case nodeVar:
			sb.WriteString(st.substitute(n.text))

		case nodeRef:
			if num, ok := st.env.Sections[n.text]; ok {
				sb.WriteString(strconv.Itoa(num))
			} else {
				st.markUnresolved("ref:" + n.text)
			}

		case nodeCond:
			ok, err := st.holds(n.text)
			if err != nil {
				return err
			}
			if n.negate {
				ok = !ok
			}
			branch := n.els
			if ok {
				branch = n.then
			}
			if err := st.exec(sb, branch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *state) substitute(path string) string {
	spec, _ := catalog.LookupVariable(st.env.Variables, path)

	v, ok := lookupPath(st.env.Answers, path)
	if !ok || catalog.Unanswered(v) {
		v, ok = st.binder.defaultFor(spec)
	}
	if !ok || catalog.Unanswered(v) {
		st.markUnresolved(path)
		return ""
	}
	return st.loc.formatValue(v, spec)
}

func (st *state) markUnresolved(path string) {
	if st.seen[path] {
		return
	}
	st.seen[path] = true
	st.unresolved = append(st.unresolved, path)
}

// holds evaluates an inline condition with the clause condition semantics:
// evaluation failures such as unknown variables are false.
func (st *state) holds(expr string) (bool, error) {
	if st.vars == nil {
		included := make(map[string]any, len(st.env.Sections))
		for id := range st.env.Sections {
			included[id] = true
		}
		st.vars = make(map[string]any, len(st.env.Answers)+1)
		for k, v := range st.env.Answers {
			st.vars[k] = v
		}
		st.vars[conditions.IncludedVar] = included
	}

	res, err := st.binder.conds.Evaluate(expr, st.vars)
	if err != nil {
		var syntaxErr *conditions.SyntaxError
		if errors.As(err, &syntaxErr) {
			return false, &SyntaxError{Tag: "{{#if " + expr + "}}", Detail: syntaxErr.Detail}
		}
		return false, err
	}
	return res.Value, nil
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(answers map[string]any, path string) (any, bool) {
	if v, ok := answers[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = answers
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Check parses body and compiles every inline condition without binding. The
// importer uses it to reject broken content before publication.
func Check(body string, conds *conditions.Engine) (*Template, error) {
	tmpl, err := Parse(body)
	if err != nil {
		return nil, err
	}
	for _, expr := range tmpl.Conditions() {
		if _, err := conds.Compile(expr); err != nil {
			var syntaxErr *conditions.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, &SyntaxError{Tag: "{{#if " + expr + "}}", Detail: syntaxErr.Detail}
			}
			return nil, err
		}
	}
	return tmpl, nil
}
