// Package evaluator decides which clauses of a resolved template make it into
// the document and assigns their section numbers.
package evaluator

import (
	"errors"
	"sort"

	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/internal/logger"
)

// Section is an included clause with its final section number.
type Section struct {
	Clause catalog.Clause
	Number int
}

// Decision records why a clause was included or not.
type Decision struct {
	ClauseID string
	Included bool
	Err      error
}

// Result is the ordered list of included clauses plus every decision taken.
type Result struct {
	Sections  []Section
	Decisions []Decision
}

// Numbers maps included clause IDs to their section numbers, for {{ref}}.
func (r *Result) Numbers() map[string]int {
	out := make(map[string]int, len(r.Sections))
	for _, s := range r.Sections {
		out[s.Clause.ID] = s.Number
	}
	return out
}

// Excluded returns the IDs of clauses left out, in document order.
func (r *Result) Excluded() []string {
	var out []string
	for _, d := range r.Decisions {
		if !d.Included {
			out = append(out, d.ClauseID)
		}
	}
	return out
}

// Evaluator runs clause conditions through a conditions.Engine.
type Evaluator struct {
	conds *conditions.Engine
}

// New creates an evaluator.
func New(conds *conditions.Engine) *Evaluator {
	return &Evaluator{conds: conds}
}

// Evaluate sorts clauses by effective order and keeps those whose condition
// holds. Conditions see the answers plus an "included" map of the decisions
// made for earlier clauses. A failing condition excludes its clause; it never
// aborts evaluation. answers is not modified.
func (ev *Evaluator) Evaluate(clauses []catalog.Clause, answers map[string]any) *Result {
	ordered := Order(clauses)

	included := make(map[string]any, len(ordered))
	vars := make(map[string]any, len(answers)+1)
	for k, v := range answers {
		vars[k] = v
	}
	vars[conditions.IncludedVar] = included

	result := &Result{
		Sections:  make([]Section, 0, len(ordered)),
		Decisions: make([]Decision, 0, len(ordered)),
	}

	number := 0
	for _, clause := range ordered {
		ok, err := ev.decide(clause, vars)
		included[clause.ID] = ok
		result.Decisions = append(result.Decisions, Decision{ClauseID: clause.ID, Included: ok, Err: err})
		if !ok {
			continue
		}
		number++
		result.Sections = append(result.Sections, Section{Clause: clause, Number: number})
	}

	return result
}

func (ev *Evaluator) decide(clause catalog.Clause, vars map[string]any) (bool, error) {
	res, err := ev.conds.Evaluate(clause.Condition, vars)
	if err != nil {
		var syntaxErr *conditions.SyntaxError
		if errors.As(err, &syntaxErr) {
			logger.Error("clause condition does not parse", "clause", clause.ID, "error", err)
		}
		return false, err
	}
	if res.Err != nil {
		logger.Debug("clause condition evaluated to false", "clause", clause.ID, "error", res.Err)
	}
	return res.Value, res.Err
}

// Order returns the clauses stably sorted by effective order. A clause with
// an explicit Order uses it; any other clause takes the highest effective
// order declared before it (0 for a leading clause), so it stays behind every
// earlier clause and appended clauses end the document. Ties keep declaration
// order.
func Order(clauses []catalog.Clause) []catalog.Clause {
	type indexed struct {
		clause catalog.Clause
		key    int
	}
	items := make([]indexed, len(clauses))
	highest := 0
	for i, c := range clauses {
		key := highest
		if c.Order != nil {
			key = *c.Order
		}
		if i == 0 || key > highest {
			highest = key
		}
		items[i] = indexed{clause: c, key: key}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].key < items[j].key })

	out := make([]catalog.Clause, len(items))
	for i, it := range items {
		out[i] = it.clause
	}
	return out
}
