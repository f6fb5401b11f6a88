package binder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrTemplateSyntax marks malformed clause text. It is an authoring error.
var ErrTemplateSyntax = errors.New("template syntax error")

// SyntaxError locates a malformed tag in a clause body.
type SyntaxError struct {
	Offset int
	Tag    string
	Detail string
}

func (e *SyntaxError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("%v at offset %d: %s", ErrTemplateSyntax, e.Offset, e.Detail)
	}
	return fmt.Sprintf("%v at offset %d (%q): %s", ErrTemplateSyntax, e.Offset, e.Tag, e.Detail)
}

func (e *SyntaxError) Unwrap() error { return ErrTemplateSyntax }

var (
	pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeRef
	nodeCond
)

type node struct {
	kind   nodeKind
	text   string // literal text, variable path, ref id or condition
	negate bool   // {{#unless}}
	then   []node
	els    []node
}

// Template is a parsed clause body.
type Template struct {
	nodes []node
}

// Variables returns every variable path the template references, in order of
// first appearance, including those inside conditional branches.
func (t *Template) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	walk(t.nodes, func(n node) {
		if n.kind == nodeVar && !seen[n.text] {
			seen[n.text] = true
			out = append(out, n.text)
		}
	})
	return out
}

// Conditions returns the expressions of every {{#if}} and {{#unless}} block.
func (t *Template) Conditions() []string {
	var out []string
	walk(t.nodes, func(n node) {
		if n.kind == nodeCond {
			out = append(out, n.text)
		}
	})
	return out
}

// Refs returns the clause ids referenced with {{ref}}.
func (t *Template) Refs() []string {
	var out []string
	walk(t.nodes, func(n node) {
		if n.kind == nodeRef {
			out = append(out, n.text)
		}
	})
	return out
}

func walk(nodes []node, fn func(node)) {
	for _, n := range nodes {
		fn(n)
		if n.kind == nodeCond {
			walk(n.then, fn)
			walk(n.els, fn)
		}
	}
}

// frame is an open block while parsing.
type frame struct {
	n       node
	tag     string
	offset  int
	inElse  bool
	closing string
}

// Parse turns a clause body into a Template. Supported tags:
//
//	{{path}}                  variable substitution, path may be dotted
//	{{#if expr}}…{{/if}}      conditional block, optional {{else}}
//	{{#unless expr}}…{{/unless}}
//	{{ref clause_id}}         section number of an included clause
//
// Unbalanced or mismatched block tags, unterminated tags and malformed tokens
// are reported as *SyntaxError.
func Parse(body string) (*Template, error) {
	var stack []*frame
	root := []node{}

	appendNode := func(n node) {
		if len(stack) == 0 {
			root = append(root, n)
			return
		}
		top := stack[len(stack)-1]
		if top.inElse {
			top.n.els = append(top.n.els, n)
		} else {
			top.n.then = append(top.n.then, n)
		}
	}

	pos := 0
	for pos < len(body) {
		open := strings.Index(body[pos:], "{{")
		if open < 0 {
			appendNode(node{kind: nodeText, text: body[pos:]})
			break
		}
		if open > 0 {
			appendNode(node{kind: nodeText, text: body[pos : pos+open]})
		}
		start := pos + open
		end := strings.Index(body[start+2:], "}}")
		if end < 0 {
			return nil, &SyntaxError{Offset: start, Detail: "unterminated tag"}
		}
		raw := body[start : start+2+end+2]
		inner := strings.TrimSpace(body[start+2 : start+2+end])
		pos = start + 2 + end + 2

		if inner == "" {
			return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "empty tag"}
		}
		if strings.Contains(inner, "{{") {
			return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "nested tag opening"}
		}

		switch {
		case strings.HasPrefix(inner, "#"):
			keyword, expr := splitKeyword(inner[1:])
			if keyword != "if" && keyword != "unless" {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "unknown block " + keyword}
			}
			if expr == "" {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "missing condition"}
			}
			stack = append(stack, &frame{
				n:       node{kind: nodeCond, text: expr, negate: keyword == "unless"},
				tag:     raw,
				offset:  start,
				closing: keyword,
			})

		case strings.HasPrefix(inner, "/"):
			keyword := strings.TrimSpace(inner[1:])
			if len(stack) == 0 {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "closing tag without open block"}
			}
			top := stack[len(stack)-1]
			if keyword != top.closing {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: fmt.Sprintf("expected {{/%s}} to close %s", top.closing, top.tag)}
			}
			stack = stack[:len(stack)-1]
			appendNode(top.n)

		case inner == "else":
			if len(stack) == 0 {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "else outside block"}
			}
			top := stack[len(stack)-1]
			if top.inElse {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "duplicate else"}
			}
			top.inElse = true

		case inner == "ref" || strings.HasPrefix(inner, "ref "):
			id := strings.TrimSpace(strings.TrimPrefix(inner, "ref"))
			if !idPattern.MatchString(id) {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "invalid clause reference"}
			}
			appendNode(node{kind: nodeRef, text: id})

		default:
			if !pathPattern.MatchString(inner) {
				return nil, &SyntaxError{Offset: start, Tag: raw, Detail: "invalid variable path"}
			}
			appendNode(node{kind: nodeVar, text: inner})
		}
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return nil, &SyntaxError{Offset: top.offset, Tag: top.tag, Detail: "unclosed block"}
	}
	return &Template{nodes: root}, nil
}

func splitKeyword(s string) (string, string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t\n")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
