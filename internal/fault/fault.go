// Package fault classifies subsystem failures into the small set of kinds the
// interview machine knows how to react to.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category a subsystem error is translated into before it reaches
// the interview machine.
type Kind int

const (
	// KindTransient covers provider and network failures that are retried or
	// downgraded to a fallback path.
	KindTransient Kind = iota
	// KindPermission covers denied microphone or camera access.
	KindPermission
	// KindProtocol covers missing identifiers and malformed responses.
	KindProtocol
	// KindEnded marks an unexpected call termination. It is handled as a normal
	// end of call.
	KindEnded
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermission:
		return "permission"
	case KindProtocol:
		return "protocol"
	case KindEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Error is a classified subsystem error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as a retryable provider failure.
func Transient(op string, err error) error { return newError(KindTransient, op, err) }

// Permission wraps err as a denied device permission.
func Permission(op string, err error) error { return newError(KindPermission, op, err) }

// Protocol wraps err as a configuration or protocol failure.
func Protocol(op string, err error) error { return newError(KindProtocol, op, err) }

// Ended wraps err as an unexpected call termination.
func Ended(op string, err error) error { return newError(KindEnded, op, err) }

// KindOf reports the kind of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
