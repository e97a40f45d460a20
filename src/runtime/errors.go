package runtime

import (
	"errors"
	"fmt"

	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/lerrors"
)

// newRuntimeErr wraps an execution failure with the position and traceback of
// the thread it happened on. Errors already carrying runtime context pass
// through untouched so the innermost position wins.
func newRuntimeErr(t *Thread, li code.LineInfo, err error) error {
	var skErr *lerrors.Error
	if errors.As(err, &skErr) && skErr.Filename != "" {
		return skErr
	}
	kind := lerrors.RuntimeErr
	inner := err
	var value any
	if skErr != nil {
		kind = skErr.Kind
		value = skErr.Value
		if skErr.Err != nil {
			inner = skErr.Err
		}
	}
	filename := "?"
	if t.callDepth > 0 {
		filename = t.callStack[t.callDepth-1].filename
	}
	return &lerrors.Error{
		Kind:      kind,
		Filename:  filename,
		Line:      li.Line,
		Column:    li.Column,
		Err:       inner,
		Value:     value,
		Traceback: t.traceback(),
	}
}

// newUserErr carries a raised error value (from error()) at the given call
// stack level.
func newUserErr(t *Thread, level int, val any) error {
	ci := callInfo{}
	if csl := int(t.callDepth); csl > 0 {
		if level > 0 && level < csl {
			ci = t.callStack[level]
		} else {
			ci = t.callStack[csl-1]
		}
	}
	return &lerrors.Error{
		Kind:      lerrors.UserErr,
		Filename:  ci.filename,
		Line:      ci.Line,
		Column:    ci.Column,
		Value:     val,
		Traceback: t.traceback(),
	}
}

func coroutineErr(format string, args ...any) error {
	return &lerrors.Error{
		Kind: lerrors.CoroutineErr,
		Err:  fmt.Errorf(format, args...),
	}
}

func yieldErr(format string, args ...any) error {
	return &lerrors.Error{
		Kind: lerrors.YieldErr,
		Err:  fmt.Errorf(format, args...),
	}
}

// errValue extracts the guest-visible error value from an error, the value
// pcall hands back as its second result.
func errValue(err error) any {
	var skErr *lerrors.Error
	if errors.As(err, &skErr) {
		if skErr.Kind == lerrors.UserErr && skErr.Value != nil {
			return skErr.Value
		}
		return err.Error()
	}
	return err.Error()
}
