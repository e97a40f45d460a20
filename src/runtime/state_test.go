package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-lang/skein/src/bytecode"
	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/lerrors"
)

func TestState_New(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	require.NotNil(t, s.Main())
	require.NotNil(t, s.Globals())
	require.NotNil(t, s.Registry())

	// _G points back at the environment itself.
	g, err := s.Globals().Get("_G")
	require.NoError(t, err)
	assert.Same(t, s.Globals(), g)

	// base library is installed.
	for _, name := range []string{"print", "pcall", "type", "coroutine", "setmetatable"} {
		val, err := s.Globals().Get(name)
		require.NoError(t, err)
		assert.NotNil(t, val, name)
	}
}

func TestState_SetGlobalAndCall(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.SetGlobal("add", Fn("add", func(_ *Thread, args []any) ([]any, error) {
		return []any{args[0].(int64) + args[1].(int64)}, nil
	}))

	fn, err := s.Globals().Get("add")
	require.NoError(t, err)
	res, err := s.Call(fn, []any{int64(40), int64(2)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42)}, res)
}

func TestState_EvalArgs(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithArgs("a", "b"))
	res, err := s.Eval(&code.Proto{
		Varargs: true,
		Code: []bytecode.Instruction{
			bytecode.IAB(bytecode.VARARG, 0, 0),
			bytecode.IAB(bytecode.RETURN, 0, 0),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, res)
}

func TestState_EvalExit(t *testing.T) {
	t.Parallel()

	panicked := false
	s := New(context.Background(), WithAtPanic(func(error) { panicked = true }))
	_, err := s.Eval(&code.Proto{
		Constants: []any{"exit"},
		Code: []bytecode.Instruction{
			bytecode.IABCK(bytecode.GETTABUP, 0, 0, false, 0, true),
			bytecode.IAsBx(bytecode.LOADI, 1, 3),
			bytecode.IABC(bytecode.CALL, 0, 2, 1),
		},
	})
	require.Error(t, err)
	exitCode, isExit := ExitCode(err)
	require.True(t, isExit)
	assert.Equal(t, 3, exitCode)
	// exit interrupts are control flow, not panics.
	assert.False(t, panicked)
}

func TestState_EvalAtPanic(t *testing.T) {
	t.Parallel()

	var captured error
	s := New(context.Background(), WithAtPanic(func(err error) { captured = err }))
	_, err := s.Eval(&code.Proto{
		Constants: []any{"boom"},
		Code: []bytecode.Instruction{
			bytecode.IABx(bytecode.LOADK, 0, 0),
			bytecode.IAsBx(bytecode.LOADI, 1, 1),
			bytecode.IABC(bytecode.ADD, 0, 0, 1),
		},
	})
	require.Error(t, err)
	require.ErrorContains(t, captured, "cannot __add string with number")
}

func TestState_StackLimit(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithStackLimit(8))
	_, err := s.Eval(&code.Proto{
		Code: []bytecode.Instruction{
			bytecode.IAsBx(bytecode.LOADI, 200, 1),
			bytecode.IAB(bytecode.RETURN, 0, 1),
		},
	})
	var lerr *lerrors.Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, lerrors.StackOverflowErr, lerr.Kind)
}

func TestState_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(ctx)
	_, err := s.Eval(&code.Proto{
		Code: []bytecode.Instruction{bytecode.IAB(bytecode.RETURN, 0, 1)},
	})
	require.ErrorContains(t, err, "execution interrupted")
}

func TestState_NewThread(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	_, err := s.NewThread("not callable")
	require.ErrorContains(t, err, "cannot create a thread from a string")

	co, err := s.NewThread(Fn("fn", func(*Thread, []any) ([]any, error) { return nil, nil }))
	require.NoError(t, err)
	assert.Equal(t, "suspended", co.Status())
}

func TestState_Close(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	co, err := s.NewThread(Fn("fn", func(*Thread, []any) ([]any, error) { return nil, nil }))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	assert.Equal(t, "dead", co.Status())
	_, err = co.Resume(nil)
	require.ErrorContains(t, err, "cannot resume dead coroutine")

	_, err = s.Eval(&code.Proto{})
	require.ErrorContains(t, err, "state is closed")
	_, err = s.Call(nil, nil)
	require.ErrorContains(t, err, "state is closed")
}

func TestState_NewUserdata(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	mt := NewTable(nil, nil)
	ud := s.NewUserdata("file", 42, mt)
	assert.Equal(t, "file", ud.Tag)
	assert.Equal(t, 42, ud.Value)
	assert.Same(t, mt, ud.metatable)
	assert.Equal(t, "userdata", typeName(ud))
}
