// Package conditions evaluates the boolean expressions that decide clause
// inclusion and inline {{#if}} blocks. Expressions are CEL, parsed without a
// type-check so that any answer variable can be referenced; a reference to a
// variable that is not answered fails evaluation and counts as false.
package conditions

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// IncludedVar is the activation variable holding clause decisions made so far.
const IncludedVar = "included"

// costLimit bounds the work a single condition may do.
const costLimit = 100000

// ErrSyntax marks expressions that do not parse.
var ErrSyntax = errors.New("condition syntax error")

// SyntaxError describes a condition that failed to parse.
type SyntaxError struct {
	Expression string
	Detail     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v in %q: %s", ErrSyntax, e.Expression, e.Detail)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// Engine compiles and caches condition programs. Safe for concurrent use; the
// program cache is the only shared state and holds immutable values.
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewEngine creates an engine with the CEL string extensions enabled.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// MustNewEngine is NewEngine for package-level wiring and tests.
func MustNewEngine() *Engine {
	en, err := NewEngine()
	if err != nil {
		panic(err)
	}
	return en
}

// Compile parses an expression and caches its program. It is used by the
// catalog importer to reject broken conditions before they are published.
func (en *Engine) Compile(expression string) (cel.Program, error) {
	en.mu.RLock()
	prog, ok := en.programs[expression]
	en.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := en.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, &SyntaxError{Expression: expression, Detail: issues.Err().Error()}
	}

	prog, err := en.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[expression] = prog
	en.mu.Unlock()

	return prog, nil
}

// Result is the outcome of evaluating one condition.
type Result struct {
	Value bool

	// Err is set when evaluation failed (for example an unanswered variable);
	// Value is then false.
	Err error
}

// Evaluate runs expression against vars. An empty expression is true. Only a
// parse failure is returned as an error; evaluation failures are reported in
// Result.Err and evaluate to false.
func (en *Engine) Evaluate(expression string, vars map[string]any) (Result, error) {
	if expression == "" {
		return Result{Value: true}, nil
	}

	prog, err := en.Compile(expression)
	if err != nil {
		return Result{}, err
	}

	out, _, err := prog.Eval(activation(vars))
	if err != nil {
		return Result{Err: err}, nil
	}
	return Result{Value: Truthy(out)}, nil
}

// activation guarantees a non-nil map; CEL rejects a nil activation.
func activation(vars map[string]any) map[string]any {
	if vars == nil {
		return map[string]any{}
	}
	return vars
}

// Truthy converts a CEL result to a decision. Booleans are taken as is;
// strings, lists and maps are true when non-empty and numbers when non-zero,
// which lets {{#if party_b_name}} work as an "is answered" test.
func Truthy(val ref.Val) bool {
	if val == nil || val.Type() == types.NullType {
		return false
	}
	return truthyValue(val.Value())
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
