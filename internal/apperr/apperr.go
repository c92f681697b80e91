// Package apperr defines the error kinds shared by every dealdesk module.
//
// Packages declare their own sentinel errors through the constructors here
// (apperr.NotFound("deal not found")), so callers can test either the exact
// sentinel or its kind:
//
//	errors.Is(err, escrow.ErrDealNotFound) // the specific failure
//	errors.Is(err, apperr.ErrNotFound)     // any not-found failure
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers that only care about the category.
type Kind int

const (
	KindInternal          Kind = iota // Unclassified failure
	KindValidation                    // Malformed input, non-positive amount
	KindNotFound                      // Unknown account, listing or deal
	KindUnauthorized                  // Actor is not the required party or admin
	KindState                         // Operation invalid for current status
	KindInsufficientFunds             // Debit would drive a balance negative
	KindStoreUnavailable              // Persistence layer cannot be reached
)

var kindNames = map[Kind]string{
	KindInternal:          "internal_error",
	KindValidation:        "validation_error",
	KindNotFound:          "not_found",
	KindUnauthorized:      "unauthorized",
	KindState:             "invalid_state",
	KindInsufficientFunds: "insufficient_funds",
	KindStoreUnavailable:  "store_unavailable",
}

// String returns the snake_case code used in API error bodies.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal_error"
}

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err != nil:
		return e.Err.Error()
	case e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg == "":
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare kind sentinel of the same kind.
// Identity matches are handled by errors.Is before this is consulted.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels. Match with errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrState             = &Error{Kind: KindState}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}

	// ErrConflict is returned when a concurrent unit of work won the race
	// for the same rows. It is a state error: re-fetch and decide again.
	ErrConflict = &Error{Kind: KindState, Msg: "concurrent update conflict"}
)

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Validation(msg string) *Error        { return New(KindValidation, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func Unauthorized(msg string) *Error      { return New(KindUnauthorized, msg) }
func State(msg string) *Error             { return New(KindState, msg) }
func InsufficientFunds(msg string) *Error { return New(KindInsufficientFunds, msg) }

// Unavailable wraps a persistence failure so it is never mistaken for a
// business error.
func Unavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Msg: "store unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Code returns the API error code for err.
func Code(err error) string {
	return KindOf(err).String()
}

// HTTPStatus maps err to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindState:
		return http.StatusConflict
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
