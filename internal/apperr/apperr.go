// Package apperr defines the typed errors that cross the import pipeline boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Kind classifies an error for callers and for the HTTP response.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindCredential
	KindUpstreamFetch
	KindPersistence
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCredential:
		return "credential"
	case KindUpstreamFetch:
		return "upstream_fetch"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Machine-readable codes returned to webhook callers.
const (
	CodeValidationFailed    = "validation_failed"
	CodeMissingCredentials  = "missing_credentials"
	CodeUpstreamFetchFailed = "upstream_fetch_failed"
	CodePersistenceFailed   = "persistence_failed"
	CodeNotFound            = "not_found"
	CodeInternal            = "internal_error"
)

// Error is a classified error. Err carries the underlying detail for logging;
// it is never serialized to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields maps request field names to a problem description (validation only).
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// FieldError is a single validation problem.
type FieldError struct {
	Field  string
	Reason string
}

func (f *FieldError) Error() string { return f.Field + ": " + f.Reason }

// Missing returns a FieldError for an absent required field.
func Missing(field string) error {
	return &FieldError{Field: field, Reason: "missing required field"}
}

// Validation aggregates field errors (combined with multierr) into one Error.
// Returns nil when errs is nil.
func Validation(errs error) error {
	if errs == nil {
		return nil
	}
	fields := make(map[string]string)
	var names []string
	for _, e := range multierr.Errors(errs) {
		var fe *FieldError
		if errors.As(e, &fe) {
			fields[fe.Field] = fe.Reason
			names = append(names, fe.Field)
		}
	}
	sort.Strings(names)
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidationFailed,
		Message: "invalid request: " + strings.Join(names, ", "),
		Fields:  fields,
		Err:     errs,
	}
}

// Credential reports a missing or unusable credential.
func Credential(message string, err error) error {
	return &Error{Kind: KindCredential, Code: CodeMissingCredentials, Message: message, Err: err}
}

// Upstream reports a failure talking to the source service.
func Upstream(message string, err error) error {
	return &Error{Kind: KindUpstreamFetch, Code: CodeUpstreamFetchFailed, Message: message, Err: err}
}

// Persistence reports a storage failure.
func Persistence(message string, err error) error {
	return &Error{Kind: KindPersistence, Code: CodePersistenceFailed, Message: message, Err: err}
}

// NotFound reports a missing local resource.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindCredential:
		return http.StatusUnauthorized
	case KindUpstreamFetch:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
