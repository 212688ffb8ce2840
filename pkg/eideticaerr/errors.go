// Package eideticaerr defines the single typed error used across Eidetica.
//
// Every failure that crosses a package boundary is an *Error carrying one
// of the Kind constants below, so callers can branch on failure category
// without parsing strings.
package eideticaerr

import "fmt"

// Kind categorizes a failure.
type Kind string

const (
	KindIO        Kind = "io"
	KindSerialize Kind = "serialize"

	KindEntryInvalidIndexData Kind = "entry_invalid_index_data"
	KindEntryValidationFailed Kind = "entry_validation_failed"

	KindBackendEntryNotFound    Kind = "entry_not_found"
	KindBackendEntryNotInTree   Kind = "entry_not_in_tree"
	KindBackendCycleDetected    Kind = "cycle_detected"
	KindBackendEmptyEntryList   Kind = "empty_entry_list"
	KindBackendNoCommonAncestor Kind = "no_common_ancestor"

	KindStoreKeyNotFound Kind = "store_key_not_found"

	KindAuthInvalidKeyFormat        Kind = "auth_invalid_key_format"
	KindAuthKeyParsingFailed        Kind = "auth_key_parsing_failed"
	KindAuthKeyNotFound             Kind = "auth_key_not_found"
	KindAuthKeyAlreadyExists        Kind = "auth_key_already_exists"
	KindAuthInvalidSignature        Kind = "auth_invalid_signature"
	KindAuthInvalidConfiguration    Kind = "auth_invalid_configuration"
	KindAuthDelegationNotFound      Kind = "auth_delegation_not_found"
	KindAuthDelegationDepthExceeded Kind = "auth_delegation_depth_exceeded"
	KindAuthPermissionDenied        Kind = "auth_permission_denied"

	KindCRDTElementNotFound Kind = "crdt_element_not_found"
	KindCRDTTypeMismatch    Kind = "crdt_type_mismatch"
	KindCRDTInvalidPath     Kind = "crdt_invalid_path"

	KindTransactionEmptyTips        Kind = "transaction_empty_tips"
	KindTransactionAlreadyCommitted Kind = "transaction_already_committed"
	KindTransactionInvalidOperation Kind = "transaction_invalid_operation"
)

// Error is the one error type that crosses Eidetica package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Context: make(map[string]any)}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error that wraps a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Context: make(map[string]any)}
}

// With attaches a context value and returns the same Error for chaining.
func (e *Error) With(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As is a thin local wrapper so this package does not need to import
// the standard errors package solely for that one call at every use site.
func As(err error, target **Error) bool {
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
