package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers should react to it.
type Kind int

const (
	Unknown Kind = iota
	InvalidIdentifier
	NotFound
	AuthError
	TransientError
	IndexUnavailable
	MappingConflict
)

var kindNames = map[Kind]string{
	Unknown:           "Unknown",
	InvalidIdentifier: "InvalidIdentifier",
	NotFound:          "NotFound",
	AuthError:         "AuthError",
	TransientError:    "TransientError",
	IndexUnavailable:  "IndexUnavailable",
	MappingConflict:   "MappingConflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText lets kinds appear by name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Fatal reports whether the run cannot continue without operator action.
func (k Kind) Fatal() bool {
	return k == AuthError || k == MappingConflict
}

// Retryable reports whether the operation may succeed when repeated.
func (k Kind) Retryable() bool {
	return k == TransientError || k == IndexUnavailable
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err still yields a non-nil error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
