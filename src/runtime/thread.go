package runtime

import (
	"errors"
	"fmt"

	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/lerrors"
)

type (
	// frame is one activation record: the stack window, program counter and
	// upvalue bookkeeping of a single closure invocation. Frames link to
	// their caller; a tail call replaces the live frame instead of linking.
	frame struct {
		prev         *frame
		fn           *code.Proto
		xargs        []any
		upvals       []*upvalueBroker
		openBrokers  []*upvalueBroker
		framePointer int64
		pc           int64
	}
	// callInfo tracks invocation names and positions for tracebacks,
	// parallel to the frame chain but including native calls.
	callInfo struct {
		code.LineInfo
		filename string
		name     string
	}
	threadStatus int
	// yieldPoint remembers where a suspended thread stopped: the frame to
	// re-enter and the stack window the resume arguments are delivered to as
	// the yield's results.
	yieldPoint struct {
		f       *frame
		retBase int64
		nret    int64
		values  []any
	}
	// Thread is an independently suspendable execution context with its own
	// register stack and activation stack. Threads of one state share its
	// globals and are scheduled cooperatively: exactly one runs at a time.
	Thread struct {
		state     *State
		stack     *Stack
		fn        any
		callStack []callInfo
		callDepth int64
		status    threadStatus
		yield     *yieldPoint
		yieldable bool
		deadErr   error
	}
	// InterruptKind distinguishes interrupts so the eval loop can react to
	// each: suspend the thread, or unwind for a host-requested exit.
	InterruptKind int
	// Interrupt is an error type native callbacks return to redirect control
	// instead of signalling failure.
	Interrupt struct {
		kind InterruptKind
		code int
	}
)

const (
	// statusSuspended is a created thread that has never run.
	statusSuspended threadStatus = iota
	// statusYielded is a thread suspended at a yield point.
	statusYielded
	// statusRunning is the thread currently executing.
	statusRunning
	// statusNormal is a thread suspended because it resumed another thread;
	// it cannot be resumed again until control returns to it.
	statusNormal
	// statusDead is a thread that returned or errored; permanent.
	statusDead
)

const (
	// InterruptYield suspends the running coroutine, handing its arguments to
	// the resumer.
	InterruptYield InterruptKind = iota
	// InterruptExit unwinds the whole thread so the host can shut down with
	// the carried code.
	InterruptExit
)

func (interrupt *Interrupt) Error() string {
	return fmt.Sprintf("vm interrupt %v", interrupt.kind)
}

// ExitInterrupt builds the interrupt a host-registered exit callback returns
// to unwind execution with an exit code.
func ExitInterrupt(exitCode int) *Interrupt {
	return &Interrupt{kind: InterruptExit, code: exitCode}
}

// ExitCode reports whether err is an exit interrupt and the code it carries.
func ExitCode(err error) (int, bool) {
	var intr *Interrupt
	if errors.As(err, &intr) && intr.kind == InterruptExit {
		return intr.code, true
	}
	return 0, false
}

func (status threadStatus) String() string {
	switch status {
	case statusRunning:
		return "running"
	case statusNormal:
		return "normal"
	case statusDead:
		return "dead"
	default:
		return "suspended"
	}
}

func (ci callInfo) String() string {
	if ci.name == "" {
		return fmt.Sprintf("\t%v:%v: in main chunk", ci.filename, ci.Line)
	}
	return fmt.Sprintf("\t%v:%v: in %v", ci.filename, ci.Line, ci.name)
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread: %p", t)
}

// Status reports the lifecycle state: suspended, running, normal or dead.
func (t *Thread) Status() string { return t.status.String() }

// Err returns the error that killed the thread, nil while it is alive.
func (t *Thread) Err() error { return t.deadErr }

// Stack exposes the thread's register stack for host manipulation.
func (t *Thread) Stack() *Stack { return t.stack }

// State returns the owning state.
func (t *Thread) State() *State { return t.state }

// Resume transfers control to this thread until it yields, returns or
// errors. The calling thread is marked normal for the duration, which is
// what makes reentrant resume cycles detectable. Resume args are delivered
// at the suspension point: as entry arguments on first run, as the yield
// expression's results afterwards.
func (t *Thread) Resume(args []any) ([]any, error) {
	switch t.status {
	case statusDead:
		return nil, coroutineErr("cannot resume dead coroutine")
	case statusRunning, statusNormal:
		return nil, coroutineErr("cannot resume non-suspended coroutine")
	}
	resumer := t.state.current
	if resumer != nil {
		resumer.status = statusNormal
	}
	t.state.current = t
	t.status = statusRunning

	var res []any
	var err error
	if t.yield != nil {
		res, err = t.reenter(args)
	} else {
		res, err = t.call(t.fn, args)
	}

	t.state.current = resumer
	if resumer != nil {
		resumer.status = statusRunning
	}
	if err != nil {
		var intr *Interrupt
		if errors.As(err, &intr) && intr.kind == InterruptYield {
			t.status = statusYielded
			if t.yield != nil {
				res = t.yield.values
			}
			return res, nil
		}
		t.status = statusDead
		t.deadErr = err
		return nil, err
	}
	t.status = statusDead
	return res, nil
}

// reenter continues a yielded thread, first materializing the resume args as
// the results of the call that yielded.
func (t *Thread) reenter(args []any) ([]any, error) {
	yp := t.yield
	t.yield = nil
	if yp.nret >= 0 {
		args = ensureLenNil(args, int(yp.nret))
	}
	if err := t.stack.setRawTop(yp.retBase); err != nil {
		return nil, err
	}
	if yp.f == nil {
		// the yield was a tail call from the chain's root frame, so there is
		// no frame to re-enter; the resume args are the chain's results.
		return args, nil
	}
	if _, err := t.stack.Push(args...); err != nil {
		return nil, err
	}
	return t.eval(yp.f)
}

func (t *Thread) pushCallstack(fn *code.Proto) error {
	if t.callDepth >= t.state.conf.MaxCallDepth {
		return &lerrors.Error{
			Kind: lerrors.StackOverflowErr,
			Err:  fmt.Errorf("call depth exceeds limit %v", t.state.conf.MaxCallDepth),
		}
	}
	ensureSize(&t.callStack, int(t.callDepth+1))
	t.callStack[t.callDepth].LineInfo = fn.LineInfo
	t.callStack[t.callDepth].name = fn.Name
	t.callStack[t.callDepth].filename = fn.Filename
	t.callDepth++
	return nil
}

func (t *Thread) pushNativeCall(name string) error {
	if t.callDepth >= t.state.conf.MaxCallDepth {
		return &lerrors.Error{
			Kind: lerrors.StackOverflowErr,
			Err:  fmt.Errorf("call depth exceeds limit %v", t.state.conf.MaxCallDepth),
		}
	}
	ensureSize(&t.callStack, int(t.callDepth+1))
	t.callStack[t.callDepth] = callInfo{name: name, filename: "<native>"}
	t.callDepth++
	return nil
}

func (t *Thread) popCallstack() {
	t.callDepth--
}

func (t *Thread) traceback() []string {
	parts := make([]string, 0, t.callDepth)
	for i := int64(0); i < t.callDepth; i++ {
		parts = append(parts, t.callStack[i].String())
	}
	return parts
}

// call invokes a callable value with the given arguments and returns all of
// its results. This is the protected-call entry point: errors are returned,
// never thrown, so pcall-style boundaries simply stop the unwind here.
func (t *Thread) call(fn any, params []any) ([]any, error) {
	switch tfn := fn.(type) {
	case *GoFunc:
		if err := t.pushNativeCall(tfn.name); err != nil {
			return nil, err
		}
		defer t.popCallstack()
		return tfn.val(t, params)
	case *Closure:
		depth, top := t.callDepth, t.stack.RawTop()
		if err := t.pushCallstack(tfn.val); err != nil {
			return nil, err
		}
		ifn, err := t.stack.Push(append([]any{tfn}, params...)...)
		if err != nil {
			t.popCallstack()
			return nil, err
		}
		res, err := t.eval(&frame{
			fn:           tfn.val,
			framePointer: ifn + 1,
			upvals:       tfn.upvalues,
		})
		if err != nil {
			var intr *Interrupt
			if !errors.As(err, &intr) {
				// the eval unwind already closed the abandoned frames; this
				// settles any residual native-call accounting so a caught
				// error costs no call-depth or stack budget.
				t.callDepth = depth
				_ = t.stack.setRawTop(top)
			}
		}
		return res, err
	case nil:
		return nil, errors.New("expected callable but found nil")
	default:
		return nil, fmt.Errorf("expected callable but found %s", typeName(fn))
	}
}

// index reads table[key], delegating to the __index event chain when the raw
// read misses or the receiver is not a table.
func (t *Thread) index(source, table, key any) (any, error) {
	if table == nil {
		table = source
	}
	tbl, isTable := table.(*Table)
	if isTable {
		res, err := tbl.Get(key)
		if err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}
	}
	switch metaVal := findMetavalue(t, MetaIndex, table).(type) {
	case *GoFunc, *Closure:
		res, err := t.call(metaVal, []any{source, key})
		if err != nil {
			return nil, err
		} else if len(res) > 0 {
			return res[0], nil
		}
		return nil, nil
	case nil:
		if isTable {
			return nil, nil
		}
		return nil, fmt.Errorf("attempt to index a %v value", typeName(table))
	default:
		return t.index(source, metaVal, key)
	}
}

// newIndex writes table[key], delegating to the __newindex event chain when
// the key is absent or the receiver is not a table.
func (t *Thread) newIndex(table, key, value any) error {
	tbl, isTable := table.(*Table)
	if isTable {
		res, err := tbl.Get(key)
		if err != nil {
			return err
		} else if res != nil {
			return tbl.Set(key, value)
		}
	}
	switch metaVal := findMetavalue(t, MetaNewIndex, table).(type) {
	case *GoFunc, *Closure:
		_, err := t.call(metaVal, []any{table, key, value})
		return err
	case nil:
		if isTable {
			return tbl.Set(key, value)
		}
		return fmt.Errorf("attempt to index a %v value", typeName(table))
	default:
		return t.newIndex(metaVal, key, value)
	}
}

// delegateBinop tries the event handler on either operand, in order.
func (t *Thread) delegateBinop(op Event, lval, rval any) (bool, []any, error) {
	if method := findMetavalue(t, op, lval); method != nil {
		ret, err := t.call(method, []any{lval, rval})
		return true, ret, err
	} else if method := findMetavalue(t, op, rval); method != nil {
		ret, err := t.call(method, []any{rval, lval})
		return true, ret, err
	}
	return false, nil, nil
}

// tostring formats a value, routing through a __tostring handler when one is
// resolvable.
func (t *Thread) tostring(val any) (string, error) {
	if method := findMetavalue(t, MetaToString, val); method != nil {
		res, err := t.call(method, []any{val})
		if err != nil {
			return "", err
		} else if len(res) == 0 {
			return "", nil
		}
		return t.tostring(res[0])
	}
	return ToString(val), nil
}

// cleanup closes the frame's open upvalue brokers on the way out.
func (t *Thread) cleanup(f *frame) {
	t.popCallstack()
	for _, broker := range f.openBrokers {
		broker.Close()
	}
}

// closeRange closes open brokers at or above the frame-local register and
// drops the stack back to it.
func (t *Thread) closeRange(f *frame, newTop int64) {
	for i := newTop; i < t.stack.RawTop()-f.framePointer; i++ {
		if j, ok := search(f.openBrokers, uint64(f.framePointer+i), findBroker); ok {
			f.openBrokers[j].Close()
			f.openBrokers = append(f.openBrokers[:j], f.openBrokers[j+1:]...)
		}
	}
	_ = t.stack.setRawTop(f.framePointer + newTop)
}

func (t *Thread) argsFromStack(offset, nargs int64) []any {
	if nargs < 0 {
		nargs = t.stack.RawTop() - offset
	}
	args := make([]any, nargs)
	for i := int64(0); i < nargs; i++ {
		args[i] = t.stack.Get(offset + i)
	}
	return args
}
