package escrow

import (
	"errors"
	"fmt"
)

// Kind classifies claim escrow failures. Codes follow the 1000-range layout
// used for general errors and the 2000-range for claim specific ones.
type Kind int

const (
	KindUnknown         Kind = 1000
	KindInvalidMetadata Kind = 1002
	KindNotFound        Kind = 1003
	KindAlreadyExists   Kind = 1004
	KindNotAuthorized   Kind = 1005
	KindInvalidAmount   Kind = 2001

	// KindAttemptsExhausted belongs to the InvalidAmount family but is kept
	// distinct so support tooling can tell "wrong code" from "too many tries".
	KindAttemptsExhausted Kind = 2002

	// KindExpired belongs to the InvalidMetadata family.
	KindExpired Kind = 2003
)

func (k Kind) String() string {
	switch k {
	case KindInvalidMetadata:
		return "InvalidMetadata"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindInvalidAmount:
		return "InvalidAmount"
	case KindAttemptsExhausted:
		return "AttemptsExhausted"
	case KindExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Family folds the refined kinds back onto the five base kinds.
func (k Kind) Family() Kind {
	switch k {
	case KindAttemptsExhausted:
		return KindInvalidAmount
	case KindExpired:
		return KindInvalidMetadata
	default:
		return k
	}
}

// Error is a claim escrow failure. Message never carries claim codes or their digests.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s: %s", e.Kind, e.Kind, e.Message)
}

// Is matches errors of the same kind, so errors.Is(err, ErrNotFound) works
// for any NotFound error regardless of its message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates an error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return newError(kind, fmt.Sprintf(format, args...))
}

var (
	ErrNotAuthorized     = newError(KindNotAuthorized, "caller is not authorized")
	ErrAlreadyExists     = newError(KindAlreadyExists, "claim code already registered")
	ErrInvalidMetadata   = newError(KindInvalidMetadata, "invalid claim")
	ErrInvalidAmount     = newError(KindInvalidAmount, "invalid amount")
	ErrNotFound          = newError(KindNotFound, "not found")
	ErrAttemptsExhausted = newError(KindAttemptsExhausted, "maximum claim attempts reached")
	ErrExpired           = newError(KindExpired, "claim has expired")
)

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}
