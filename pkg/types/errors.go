package types

import (
	"errors"
	"fmt"
)

// ErrorKind represents the categories of failure reported by the ledger
type ErrorKind string

const (
	KindIdentityNotFound   ErrorKind = "IDENTITY_NOT_FOUND"
	KindIdentitySuspended  ErrorKind = "IDENTITY_SUSPENDED"
	KindDuplicateIdentity  ErrorKind = "DUPLICATE_IDENTITY"
	KindContractNotFound   ErrorKind = "CONTRACT_NOT_FOUND"
	KindNotAuthorized      ErrorKind = "NOT_AUTHORIZED"
	KindInvalidTransition  ErrorKind = "INVALID_TRANSITION"
	KindAccessDenied       ErrorKind = "ACCESS_DENIED"
	KindRecordsNotFound    ErrorKind = "RECORDS_NOT_FOUND"
	KindDuplicateConsent   ErrorKind = "DUPLICATE_CONSENT"
	KindValidation         ErrorKind = "VALIDATION_FAILED"
	KindInternal           ErrorKind = "INTERNAL_ERROR"
)

// LedgerError represents a structured, inspectable error raised by the ledger
type LedgerError struct {
	Kind    ErrorKind              `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LedgerError of the same kind, so the
// sentinel values below can be used with errors.Is.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail attaches a key/value detail and returns the error
func (e *LedgerError) WithDetail(key string, value interface{}) *LedgerError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewLedgerError creates a new ledger error of the given kind
func NewLedgerError(kind ErrorKind, format string, args ...interface{}) *LedgerError {
	return &LedgerError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *LedgerError {
	return &LedgerError{
		Kind:    KindValidation,
		Message: fmt.Sprintf("%s: %s", field, message),
		Details: map[string]interface{}{"field": field},
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *LedgerError {
	return &LedgerError{
		Kind:    KindInternal,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is comparisons
var (
	ErrIdentityNotFound  = &LedgerError{Kind: KindIdentityNotFound, Message: "identity not found"}
	ErrIdentitySuspended = &LedgerError{Kind: KindIdentitySuspended, Message: "identity is suspended"}
	ErrDuplicateIdentity = &LedgerError{Kind: KindDuplicateIdentity, Message: "identity already registered"}
	ErrContractNotFound  = &LedgerError{Kind: KindContractNotFound, Message: "contract not found"}
	ErrNotAuthorized     = &LedgerError{Kind: KindNotAuthorized, Message: "actor is not authorized for this operation"}
	ErrInvalidTransition = &LedgerError{Kind: KindInvalidTransition, Message: "invalid contract state transition"}
	ErrAccessDenied      = &LedgerError{Kind: KindAccessDenied, Message: "no active consent contract found on the ledger"}
	ErrRecordsNotFound   = &LedgerError{Kind: KindRecordsNotFound, Message: "records not found off-chain"}
	ErrDuplicateConsent  = &LedgerError{Kind: KindDuplicateConsent, Message: "an active consent already exists"}
	ErrValidation        = &LedgerError{Kind: KindValidation, Message: "validation failed"}
)

// ErrNotFound is returned by storage backends when a key is absent.
// Domain components translate it into the matching LedgerError kind.
var ErrNotFound = errors.New("state not found")

// KindOf extracts the error kind from err, or KindInternal when err is not a LedgerError
func KindOf(err error) ErrorKind {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Kind
	}
	return KindInternal
}
