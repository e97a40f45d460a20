// Package lerrors is the unified errors package for the skein runtime so that
// every failure, from a bad stack index to a dead coroutine, is carried as a
// value with enough context for the host to present it.
package lerrors

import (
	"fmt"
	"strings"
)

type (
	// ErrorKind is an enum to describe what class of failure the error carries.
	ErrorKind int
	// Error captures all errors raised by the runtime core. Each kind is
	// recoverable at a protected boundary; none are swallowed. An error that
	// reaches a thread's top level kills the thread but is still returned to
	// the resumer as a value.
	Error struct {
		Line      int64
		Column    int64
		Kind      ErrorKind
		Err       error
		Value     any
		Filename  string
		Traceback []string
	}
)

const (
	// RuntimeErr is an error raised during execution that propagates up the
	// activation stack to the nearest protected boundary.
	RuntimeErr ErrorKind = iota
	// ConversionErr is returned when a value cannot be coerced to the
	// requested type.
	ConversionErr
	// IndexErr is returned when a stack or argument index is outside of the
	// valid range of the active frame.
	IndexErr
	// StackOverflowErr is returned when stack growth would exceed the
	// configured hard limit, or the activation stack exceeds its depth limit.
	StackOverflowErr
	// CoroutineErr is returned on resume/yield misuse, such as resuming a
	// dead or running coroutine.
	CoroutineErr
	// YieldErr is returned when yield is called in a context that cannot be
	// suspended.
	YieldErr
	// UserErr is an error value raised by guest code via error().
	UserErr
	// AsmErr is an error from assembling a listing into a prototype.
	AsmErr
)

func (kind ErrorKind) String() string {
	switch kind {
	case ConversionErr:
		return "conversion error"
	case IndexErr:
		return "index error"
	case StackOverflowErr:
		return "stack overflow"
	case CoroutineErr:
		return "coroutine error"
	case YieldErr:
		return "yield error"
	case AsmErr:
		return "asm error"
	default:
		return "runtime error"
	}
}

func (err *Error) Error() string {
	switch err.Kind {
	case RuntimeErr, StackOverflowErr:
		if len(err.Traceback) == 0 {
			return fmt.Sprintf("skein:%v:%v:%v %v", err.Filename, err.Line, err.Column, err.Err)
		}
		return fmt.Sprintf(
			"skein:%v:%v:%v %v\nstack traceback:\n%v",
			err.Filename,
			err.Line,
			err.Column,
			err.Err,
			strings.Join(err.Traceback, "\n"),
		)
	case AsmErr:
		return fmt.Sprintf("asm error: %s:%v:%v %v", err.Filename, err.Line, err.Column, err.Err)
	case UserErr:
		if str, isStr := err.Value.(string); isStr {
			return str
		} else if err.Value == nil && err.Err != nil {
			return err.Err.Error()
		}
		return fmt.Sprintf("(error object is a %T value)", err.Value)
	default:
		return fmt.Sprintf("%v: %v", err.Kind, err.Err)
	}
}

// Unwrap exposes the inner error for errors.Is/As chains.
func (err *Error) Unwrap() error { return err.Err }
