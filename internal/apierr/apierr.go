// Package apierr defines the closed error taxonomy shared by every layer of
// the gateway. Adapters, the planner, the admission stage and the store all
// return *Error so the facade never has to special-case a raw driver error.
package apierr

import "fmt"

// Code is one of the closed set of error codes the gateway may return.
type Code string

const (
	InvalidSql           Code = "InvalidSql"
	NotAllowed           Code = "NotAllowed"
	UnknownAlias         Code = "UnknownAlias"
	AmbiguousUnqualified Code = "AmbiguousUnqualified"
	UnsupportedJoin      Code = "UnsupportedJoin"
	DialectUnsupported   Code = "DialectUnsupported"
	CatalogMissing       Code = "CatalogMissing"
	SourceUnavailable    Code = "SourceUnavailable"
	SourceQueryFailed    Code = "SourceQueryFailed"
	Timeout              Code = "Timeout"
	NotFound             Code = "NotFound"
	Conflict             Code = "Conflict"
	Internal             Code = "Internal"
)

// Error is the single error type returned across package boundaries in this
// module. Message is always safe to show to an end user; Details carries
// debugging context and is optional.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an *Error with no details.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches debugging details and returns the same error.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, else Internal.
func CodeOf(err error) Code {
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return Internal
}

// as is a tiny indirection so this package doesn't need to import errors
// twice in every call site.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
