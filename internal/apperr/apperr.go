// Package apperr defines the typed failures returned by the coupon core.
//
// Every failure a caller can recover from carries a Kind. Infrastructure
// errors (connection loss, driver failures) are never converted to an
// *Error; they travel wrapped with %w and surface as internal failures.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a recoverable failure.
type Kind uint8

const (
	// Unknown is the kind of any error that is not an *Error.
	Unknown Kind = iota
	NotFound
	InvalidTransition
	Locked
	CapacityExceeded
	Exhausted
	Expired
	InvalidArgument
	Conflict
)

var kindNames = [...]string{
	Unknown:           "unknown",
	NotFound:          "not found",
	InvalidTransition: "invalid transition",
	Locked:            "locked",
	CapacityExceeded:  "capacity exceeded",
	Exhausted:         "exhausted",
	Expired:           "expired",
	InvalidArgument:   "invalid argument",
	Conflict:          "conflict",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a recoverable failure with a human readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is makes the bare sentinels below match any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrInvalidTransition = &Error{Kind: InvalidTransition}
	ErrLocked            = &Error{Kind: Locked}
	ErrCapacityExceeded  = &Error{Kind: CapacityExceeded}
	ErrExhausted         = &Error{Kind: Exhausted}
	ErrExpired           = &Error{Kind: Expired}
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrConflict          = &Error{Kind: Conflict}
)

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
