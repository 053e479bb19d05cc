// Package apperr defines the error taxonomy shared by the installer, the
// patch engine and the deployment orchestrator. Every error carries a Kind
// that callers map to exit codes and HTTP statuses, and a stack captured at
// construction time for verbose output.
package apperr

import (
	stderr "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error.
type Kind int

const (
	Internal Kind = iota
	Auth
	Validation
	Conflict
	IO
	Remote
	RateLimit
	Configuration
)

var kindNames = map[Kind]string{
	Internal:      "internal",
	Auth:          "auth",
	Validation:    "validation",
	Conflict:      "conflict",
	IO:            "io",
	Remote:        "remote",
	RateLimit:     "rate_limit",
	Configuration: "configuration",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a captured stack.
func New(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err})
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when none is classified.
func KindOf(err error) Kind {
	var e *Error
	if stderr.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Trace renders the deepest captured stack in err's chain. It returns an
// empty string when no stack was captured.
func Trace(err error) string {
	var trace errors.StackTrace
	for e := err; e != nil; e = stderr.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			trace = st.StackTrace()
		}
	}
	if trace == nil {
		return ""
	}
	return fmt.Sprintf("%+v", trace)
}
