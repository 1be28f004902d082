// Package failure defines the error taxonomy shared by every conversion stage.
//
// Errors carry a coarse Kind that is safe to show to foreign callers and a
// finer Code plus byte offset for logs and tests. Public renderings only ever
// use the Kind.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the coarse error class exposed across the trust boundary.
type Kind uint8

const (
	Internal Kind = iota
	ResourceLimitExceeded
	InvalidInput
	ForbiddenContent
	NestingTooDeep
	Overload
)

var kindNames = [...]string{
	Internal:              "internal",
	ResourceLimitExceeded: "resource_limit_exceeded",
	InvalidInput:          "invalid_input",
	ForbiddenContent:      "forbidden_content",
	NestingTooDeep:        "nesting_too_deep",
	Overload:              "overload",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[Internal]
}

// Message is the fixed, sanitized text for a kind.
func (k Kind) Message() string {
	switch k {
	case ResourceLimitExceeded:
		return "document exceeds a configured size limit"
	case InvalidInput:
		return "document is malformed and could not be repaired"
	case ForbiddenContent:
		return "document contains content that is not permitted"
	case NestingTooDeep:
		return "document nesting exceeds the permitted depth"
	case Overload:
		return "converter is at capacity, retry later"
	default:
		return "internal conversion error"
	}
}

// Code refines a Kind for diagnostics.
type Code string

const (
	CodeInputTooLarge      Code = "input_too_large"
	CodeTextLimit          Code = "text_limit"
	CodeNodeLimit          Code = "node_limit"
	CodeTableTooLarge      Code = "table_too_large"
	CodeInvalidControlWord Code = "invalid_control_word"
	CodeInvalidParameter   Code = "invalid_parameter"
	CodeUnexpectedEOF      Code = "unexpected_eof"
	CodeUnbalancedGroup    Code = "unbalanced_group"
	CodeNotRTF             Code = "not_rtf"
	CodeInvalidUTF8        Code = "invalid_utf8"
	CodeDeniedWord         Code = "denied_control_word"
	CodeDepth              Code = "depth"
	CodeUnresolvedIssues   Code = "unresolved_issues"
	CodeQueueFull          Code = "queue_full"
	CodeClosed             Code = "closed"
	CodePanic              Code = "panic"
	CodeUnsupportedNode    Code = "unsupported_node"
	CodeUnsupportedFormat  Code = "unsupported_format"
	CodeMalformedImport    Code = "malformed_import"
)

// Error is the typed error returned by lexers, parsers, generators and the engine.
type Error struct {
	Kind   Kind
	Code   Code
	Offset int      // byte offset into the input, -1 when not applicable
	Issues []string // validation issue kinds, only for CodeUnresolvedIssues
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(string(e.Code))
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if len(e.Issues) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Issues, ","))
		b.WriteString("]")
	}
	return b.String()
}

// Is matches another *Error by Kind, and by Code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New returns an error without an input position.
func New(kind Kind, code Code) *Error {
	return &Error{Kind: kind, Code: code, Offset: -1}
}

// At returns an error positioned at a byte offset.
func At(kind Kind, code Code, offset int) *Error {
	return &Error{Kind: kind, Code: code, Offset: offset}
}

// Sentinels for errors.Is checks by kind.
var (
	ErrResourceLimit  = &Error{Kind: ResourceLimitExceeded}
	ErrInvalidInput   = &Error{Kind: InvalidInput}
	ErrForbidden      = &Error{Kind: ForbiddenContent}
	ErrNestingTooDeep = &Error{Kind: NestingTooDeep}
	ErrOverload       = &Error{Kind: Overload}
	ErrInternal       = &Error{Kind: Internal}
)

// KindOf extracts the Kind from any error chain; unknown errors are Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// CodeOf extracts the Code from an error chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// FromPanic converts a recovered panic value into an Internal error.
// The panic value is not retained.
func FromPanic(any) *Error {
	return New(Internal, CodePanic)
}
