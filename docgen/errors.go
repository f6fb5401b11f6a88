package docgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/liamcoop/docforge/answers"
	"github.com/liamcoop/docforge/binder"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

// Kind separates user-correctable failures from system failures.
type Kind int

const (
	// KindBadInput failures are caused by the request and map to 4xx.
	KindBadInput Kind = iota + 1

	// KindSystem failures are catalog, store or renderer faults and map to 5xx.
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad_input"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

// Error codes.
const (
	CodeTemplateNotFound        = "template_not_found"
	CodeUnsupportedJurisdiction = "unsupported_jurisdiction"
	CodeUnsupportedLanguage     = "unsupported_language"
	CodeInvalidAnswers          = "invalid_answers"
	CodeUnsupportedFormat       = "unsupported_format"
	CodeInvalidOptions          = "invalid_options"
	CodeTemplateSyntax          = "template_syntax"
	CodeRenderFailed            = "render_failed"
	CodeTimeout                 = "timeout"
	CodeInternal                = "internal"
)

// systemMessage is all a caller learns about a system failure besides the
// correlation id.
const systemMessage = "document generation failed; contact support with the reference"

// Error is the single error type returned by the service.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Fields carries per-variable detail for CodeInvalidAnswers.
	Fields []answers.FieldError

	// CorrelationID is set for system failures and logged with the cause.
	CorrelationID string

	// Retryable marks transient system failures such as a PDF service timeout.
	Retryable bool

	Err error
}

func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s (%s, ref %s): %v", e.Message, e.Code, e.CorrelationID, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeTemplateNotFound:
		return http.StatusNotFound
	case CodeInvalidAnswers:
		return http.StatusUnprocessableEntity
	case CodeUnsupportedJurisdiction, CodeUnsupportedLanguage, CodeUnsupportedFormat, CodeInvalidOptions:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	}
	if e.Kind == KindBadInput {
		return http.StatusBadRequest
	}
	if e.Retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// IsBadInput reports whether err is a user-correctable *Error.
func IsBadInput(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindBadInput
}

// Classify maps any pipeline error onto an *Error. System errors get a fresh
// correlation id. An *Error is returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var done *Error
	if errors.As(err, &done) {
		return done
	}

	bad := func(code, msg string) *Error {
		return &Error{Kind: KindBadInput, Code: code, Message: msg, Err: err}
	}

	var verr *answers.ValidationError
	switch {
	case errors.Is(err, catalog.ErrTemplateNotFound):
		return bad(CodeTemplateNotFound, "template not found")
	case errors.Is(err, resolver.ErrUnsupportedJurisdiction):
		return bad(CodeUnsupportedJurisdiction, "jurisdiction is not supported by this template")
	case errors.Is(err, resolver.ErrUnsupportedLanguage):
		return bad(CodeUnsupportedLanguage, "language is not supported by this template")
	case errors.As(err, &verr):
		e := bad(CodeInvalidAnswers, "answers failed validation")
		e.Fields = verr.Fields
		return e
	case errors.Is(err, render.ErrUnsupportedFormat):
		return bad(CodeUnsupportedFormat, err.Error())
	case errors.Is(err, render.ErrInvalidOptions):
		return bad(CodeInvalidOptions, err.Error())
	}

	sys := &Error{Kind: KindSystem, Code: CodeInternal, Message: systemMessage, CorrelationID: uuid.NewString(), Err: err}

	var convErr *render.ConversionError
	switch {
	case errors.Is(err, binder.ErrTemplateSyntax), errors.Is(err, conditions.ErrSyntax):
		sys.Code = CodeTemplateSyntax
	case errors.As(err, &convErr):
		sys.Code = CodeRenderFailed
		sys.Retryable = convErr.Retryable
	case errors.Is(err, context.DeadlineExceeded):
		sys.Code = CodeTimeout
		sys.Retryable = true
	}
	return sys
}
