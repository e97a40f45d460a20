package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-lang/skein/src/bytecode"
	"github.com/skein-lang/skein/src/code"
)

func newClosure(s *State, proto *code.Proto) *Closure {
	return &Closure{
		val:      proto,
		upvalues: []*upvalueBroker{{name: "_ENV", val: s.Globals()}},
	}
}

func TestThread_ResumeYield(t *testing.T) {
	t.Parallel()

	// body(a): yields a+1, receives b, yields b+2, returns "end".
	body := &code.Proto{
		Name:      "body",
		Arity:     1,
		Constants: []any{"coroutine", "yield", int64(1), int64(2), "end"},
		UpIndexes: []code.UpIndex{{Name: "_ENV", FromStack: false, Index: 0}},
		Code: []bytecode.Instruction{
			bytecode.IABCK(bytecode.GETTABUP, 1, 0, false, 0, true),
			bytecode.IABCK(bytecode.GETTABLE, 1, 1, false, 1, true),
			bytecode.IAB(bytecode.MOVE, 2, 1),
			bytecode.IABCK(bytecode.ADD, 3, 0, false, 2, true),
			bytecode.IABC(bytecode.CALL, 2, 2, 2),
			bytecode.IAB(bytecode.MOVE, 3, 1),
			bytecode.IABCK(bytecode.ADD, 4, 2, false, 3, true),
			bytecode.IABC(bytecode.CALL, 3, 2, 1),
			bytecode.IABx(bytecode.LOADK, 0, 4),
			bytecode.IAB(bytecode.RETURN, 0, 2),
		},
	}

	s := New(context.Background())
	co, err := s.NewThread(newClosure(s, body))
	require.NoError(t, err)
	assert.Equal(t, "suspended", co.Status())

	res, err := co.Resume([]any{int64(10)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(11)}, res)
	assert.Equal(t, "suspended", co.Status())

	// the resume argument becomes the yield expression's result.
	res, err = co.Resume([]any{int64(20)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(22)}, res)

	res, err = co.Resume(nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"end"}, res)
	assert.Equal(t, "dead", co.Status())

	_, err = co.Resume(nil)
	require.ErrorContains(t, err, "cannot resume dead coroutine")
}

func TestThread_ResumeTailYield(t *testing.T) {
	t.Parallel()

	// a yield in tail position dismantles the body's frame before
	// suspending; the resume args then become the coroutine's results.
	body := &code.Proto{
		Name:      "body",
		Arity:     1,
		Constants: []any{"yield"},
		UpIndexes: []code.UpIndex{{Name: "_ENV", FromStack: false, Index: 0}},
		Code: []bytecode.Instruction{
			bytecode.IABCK(bytecode.GETTABUP, 1, 0, false, 0, true),
			bytecode.IAB(bytecode.MOVE, 2, 0),
			bytecode.IABC(bytecode.TAILCALL, 1, 2, 0),
			bytecode.IAB(bytecode.RETURN, 0, 1),
		},
	}

	s := New(context.Background())
	coLib, err := s.Globals().Get("coroutine")
	require.NoError(t, err)
	yieldFn, err := coLib.(*Table).Get("yield")
	require.NoError(t, err)
	s.SetGlobal("yield", yieldFn)

	co, err := s.NewThread(newClosure(s, body))
	require.NoError(t, err)

	res, err := co.Resume([]any{int64(5)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5)}, res)
	assert.Equal(t, "suspended", co.Status())

	res, err = co.Resume([]any{int64(7), int64(8)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(7), int64(8)}, res)
	assert.Equal(t, "dead", co.Status())
}

func TestThread_ResumeGoFuncBody(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	co, err := s.NewThread(Fn("body", func(_ *Thread, args []any) ([]any, error) {
		return []any{args[0].(int64) + 1}, nil
	}))
	require.NoError(t, err)

	res, err := co.Resume([]any{int64(41)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42)}, res)
	assert.Equal(t, "dead", co.Status())
}

func TestThread_ResumeError(t *testing.T) {
	t.Parallel()

	// the body raises unprotected; the error kills the thread but is returned
	// to the resumer, and stays readable afterwards.
	body := &code.Proto{
		Name:      "body",
		Constants: []any{"boom"},
		UpIndexes: []code.UpIndex{{Name: "_ENV", FromStack: false, Index: 0}},
		Code: []bytecode.Instruction{
			bytecode.IABx(bytecode.LOADK, 0, 0),
			bytecode.IAsBx(bytecode.LOADI, 1, 1),
			bytecode.IABC(bytecode.ADD, 0, 0, 1),
		},
	}

	s := New(context.Background())
	co, err := s.NewThread(newClosure(s, body))
	require.NoError(t, err)

	_, err = co.Resume(nil)
	require.ErrorContains(t, err, "cannot __add string with number")
	assert.Equal(t, "dead", co.Status())
	require.ErrorContains(t, co.Err(), "cannot __add string with number")

	_, err = co.Resume(nil)
	require.ErrorContains(t, err, "cannot resume dead coroutine")
}

func TestThread_ResumeReentrancy(t *testing.T) {
	t.Parallel()

	s := New(context.Background())

	t.Run("a thread cannot resume itself", func(t *testing.T) {
		var co *Thread
		var innerErr error
		co, err := s.NewThread(Fn("self-resume", func(*Thread, []any) ([]any, error) {
			_, innerErr = co.Resume(nil)
			return nil, nil
		}))
		require.NoError(t, err)
		_, err = co.Resume(nil)
		require.NoError(t, err)
		require.ErrorContains(t, innerErr, "cannot resume non-suspended coroutine")
	})

	t.Run("a thread cannot resume its resumer", func(t *testing.T) {
		main := s.Main()
		var innerErr error
		co, err := s.NewThread(Fn("resume-main", func(*Thread, []any) ([]any, error) {
			_, innerErr = main.Resume(nil)
			return nil, nil
		}))
		require.NoError(t, err)
		_, err = co.Resume(nil)
		require.NoError(t, err)
		require.ErrorContains(t, innerErr, "cannot resume non-suspended coroutine")
	})
}

func TestThread_YieldOutsideCoroutine(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	_, err := s.Eval(&code.Proto{
		Constants: []any{"coroutine", "yield"},
		Code: []bytecode.Instruction{
			bytecode.IABCK(bytecode.GETTABUP, 0, 0, false, 0, true),
			bytecode.IABCK(bytecode.GETTABLE, 0, 0, false, 1, true),
			bytecode.IABC(bytecode.CALL, 0, 1, 1),
		},
	})
	require.ErrorContains(t, err, "attempt to yield from outside a coroutine")
}

func TestThread_YieldAcrossPcall(t *testing.T) {
	t.Parallel()

	body := &code.Proto{
		Name:      "body",
		Constants: []any{"pcall", "coroutine", "yield"},
		UpIndexes: []code.UpIndex{{Name: "_ENV", FromStack: false, Index: 0}},
		Code: []bytecode.Instruction{
			bytecode.IABCK(bytecode.GETTABUP, 0, 0, false, 0, true),
			bytecode.IABCK(bytecode.GETTABUP, 1, 0, false, 1, true),
			bytecode.IABCK(bytecode.GETTABLE, 1, 1, false, 2, true),
			bytecode.IABC(bytecode.CALL, 0, 2, 3),
			bytecode.IAB(bytecode.RETURN, 0, 3),
		},
	}

	s := New(context.Background())
	co, err := s.NewThread(newClosure(s, body))
	require.NoError(t, err)

	res, err := co.Resume(nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, false, res[0])
	assert.Contains(t, res[1].(string), "attempt to yield across a protected call boundary")
	assert.Equal(t, "dead", co.Status())
}

func TestThread_StatusTransitions(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	assert.Equal(t, "running", s.Main().Status())

	// while a coroutine runs, the resumer reads as normal and the coroutine as
	// running.
	var insideStatus, resumerStatus string
	var co *Thread
	co, err := s.NewThread(Fn("observe", func(*Thread, []any) ([]any, error) {
		insideStatus = co.Status()
		resumerStatus = s.Main().Status()
		return nil, nil
	}))
	require.NoError(t, err)

	_, err = co.Resume(nil)
	require.NoError(t, err)
	assert.Equal(t, "running", insideStatus)
	assert.Equal(t, "normal", resumerStatus)
	assert.Equal(t, "running", s.Main().Status())
	assert.Equal(t, "dead", co.Status())
}

func TestThread_CallInfoString(t *testing.T) {
	t.Parallel()

	main := callInfo{filename: "file.skn", LineInfo: code.LineInfo{Line: 12}}
	assert.Equal(t, "\tfile.skn:12: in main chunk", main.String())
	named := callInfo{filename: "file.skn", LineInfo: code.LineInfo{Line: 4}, name: "loop"}
	assert.Equal(t, "\tfile.skn:4: in loop", named.String())
}
