// Package gameerr defines the error kinds shared by the session engine.
//
// Every failure surfaced to callers wraps exactly one of the sentinel kinds
// below, so callers branch with errors.Is regardless of how much context was
// added on the way up.
package gameerr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrUnsupportedVariant = errors.New("unsupported variant")
	ErrNotFound           = errors.New("not found")
	ErrIllegalMove        = errors.New("illegal move")
	ErrSessionFinished    = errors.New("session finished")
	ErrSessionBusy        = errors.New("session busy")
	ErrConnectionLost     = errors.New("connection lost")
	ErrPersistence        = errors.New("persistence failure")
	ErrStateCorruption    = errors.New("state corruption")
)

// Error carries the operation and subject of a failure along with its kind.
type Error struct {
	Kind error  // one of the Err* sentinels
	Op   string // operation that failed, e.g. "move"
	ID   string // session or record id, if any
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ID != "" {
		msg += " (" + e.ID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind.
func New(kind error, op, id string, cause error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: cause}
}

// Newf builds an *Error whose cause is a formatted message.
func Newf(kind error, op, id, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: fmt.Errorf(format, args...)}
}

// Kind returns the sentinel kind of err, or nil if err carries none.
func Kind(err error) error {
	for _, k := range []error{
		ErrUnsupportedVariant, ErrNotFound, ErrIllegalMove, ErrSessionFinished,
		ErrSessionBusy, ErrConnectionLost, ErrPersistence, ErrStateCorruption,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether an automatic retry can succeed. Rule
// violations never become legal on retry.
func Retryable(err error) bool {
	switch Kind(err) {
	case ErrConnectionLost, ErrPersistence, ErrSessionBusy:
		return true
	default:
		return false
	}
}
