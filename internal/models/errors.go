package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors so callers (and the HTTP layer) can
// handle them programmatically without matching on message text.
type ErrorKind string

const (
	KindInvalidArgument       ErrorKind = "invalid_argument"
	KindNotFound              ErrorKind = "not_found"
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindInsufficientShares    ErrorKind = "insufficient_shares"
	KindTickerNotFound        ErrorKind = "ticker_not_found"
	KindMarketDataUnavailable ErrorKind = "market_data_unavailable"
	KindRateLimited           ErrorKind = "rate_limited"
	KindAuthFailed            ErrorKind = "auth_failed"
	KindConflict              ErrorKind = "conflict"
	KindInconsistentLedger    ErrorKind = "inconsistent_ledger"
	KindTransient             ErrorKind = "transient"
)

// Error is a domain error carrying a kind and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a domain error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a domain error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err as a domain error of the given kind.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the error kind of err, walking the wrap chain.
// Returns "" for non-domain errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) is a domain error of kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
