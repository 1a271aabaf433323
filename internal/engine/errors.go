package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a failed run. A rejected submission is not an error: it
// is a completed Outcome with Valid=false.
type Kind int

const (
	KindUnknown Kind = iota
	// KindEphemeral means the verdict could not be computed this run.
	// Nothing was submitted and the caller may retry later.
	KindEphemeral
	// KindFatal means an accepted submission's reward could not be
	// delivered. The payload has been spooled.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindEphemeral:
		return "ephemeral"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error carries the failure class and the stage that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func ephemeral(op string, err error) error {
	return &Error{Kind: KindEphemeral, Op: op, Err: err}
}

func fatal(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindFatal {
		return err
	}
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the class of err, or KindUnknown when err did not come
// from a pipeline stage.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsEphemeral(err error) bool { return KindOf(err) == KindEphemeral }

func IsFatal(err error) bool { return KindOf(err) == KindFatal }
