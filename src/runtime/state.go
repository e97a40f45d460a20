package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/conf"
)

type (
	// Config carries the host-tunable limits and hooks of a state.
	Config struct {
		// StackLimit is the hard limit each thread's register stack may grow to.
		StackLimit int64
		// MaxCallDepth is the limit of nested activation frames per thread.
		MaxCallDepth int64
		// AtPanic is invoked with any error that escapes the main thread
		// unprotected, before it is returned to the host.
		AtPanic func(error)
	}
	// Option configures a state at creation.
	Option func(*State)
	// State is the root object of one runtime instance. It owns the global
	// environment, the registry, the main thread and every coroutine created
	// from it. A state and its threads are confined to one logical executor
	// at a time: nothing here is safe for concurrent use from multiple
	// goroutines.
	State struct {
		ctx       context.Context
		globals   *Table
		registry  *Table
		main      *Thread
		current   *Thread
		threads   []*Thread
		conf      Config
		resolver  Resolver
		collector Collector
		// threadMeta is the metatable the default resolver reports for
		// thread values.
		threadMeta *Table
		closed     bool
	}
)

// WithStackLimit lowers the per-thread register stack hard limit.
func WithStackLimit(limit int64) Option {
	return func(s *State) { s.conf.StackLimit = limit }
}

// WithCallDepth sets the nested activation frame limit.
func WithCallDepth(depth int64) Option {
	return func(s *State) { s.conf.MaxCallDepth = depth }
}

// WithAtPanic installs the hook called with errors that escape the main
// thread unprotected.
func WithAtPanic(handler func(error)) Option {
	return func(s *State) { s.conf.AtPanic = handler }
}

// WithResolver swaps the metamethod resolution strategy.
func WithResolver(r Resolver) Option {
	return func(s *State) { s.resolver = r }
}

// WithCollector swaps the allocation/trace collaborator.
func WithCollector(c Collector) Option {
	return func(s *State) { s.collector = c }
}

// WithArgs exposes host arguments to guest code as the global arg table.
func WithArgs(args ...string) Option {
	return func(s *State) {
		vals := make([]any, len(args))
		for i, arg := range args {
			vals[i] = arg
		}
		_ = s.globals.Set("arg", NewTable(vals, nil))
	}
}

// New creates a state with its global environment, base library and main
// thread set up. The context cancels execution cooperatively: threads notice
// at instruction boundaries and unwind with an error.
func New(ctx context.Context, opts ...Option) *State {
	s := &State{
		ctx:      ctx,
		registry: NewTable(nil, nil),
		conf: Config{
			StackLimit:   conf.MAXSTACKSIZE,
			MaxCallDepth: conf.MAXCALLDEPTH,
		},
	}
	s.globals = createBaseEnv(s)
	_ = s.globals.Set("_G", s.globals)
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = &tableResolver{state: s}
	}
	if s.collector == nil {
		s.collector = newCountingCollector()
	}
	s.main = &Thread{
		state:     s,
		stack:     newStack(s.conf.StackLimit),
		status:    statusRunning,
		yieldable: false,
	}
	s.current = s.main
	s.threads = append(s.threads, s.main)
	return s
}

// Main returns the main thread; it exists for the life of the state.
func (s *State) Main() *Thread { return s.main }

// Globals returns the shared global environment table.
func (s *State) Globals() *Table { return s.globals }

// Registry returns the host-private registry table, never visible to guest
// code.
func (s *State) Registry() *Table { return s.registry }

// SetGlobal registers a value, typically a Fn callback, in the global
// environment.
func (s *State) SetGlobal(name string, val any) {
	_ = s.globals.Set(name, val)
}

// NewUserdata wraps a host value so it can travel through the runtime.
func (s *State) NewUserdata(tag string, val any, mt *Table) *Userdata {
	s.collector.Allocate(KindUserdata)
	return &Userdata{Value: val, Tag: tag, metatable: mt}
}

// NewThread creates a coroutine over a callable value. It is created
// suspended and runs only when resumed.
func (s *State) NewThread(fn any) (*Thread, error) {
	switch fn.(type) {
	case *Closure, *GoFunc:
	default:
		return nil, fmt.Errorf("cannot create a thread from a %s", typeName(fn))
	}
	s.collector.Allocate(KindThread)
	t := &Thread{
		state:     s,
		stack:     newStack(s.conf.StackLimit),
		fn:        fn,
		status:    statusSuspended,
		yieldable: true,
	}
	s.threads = append(s.threads, t)
	return t, nil
}

// Eval runs a compiled prototype on the main thread and returns its results.
// The prototype is closed over the global environment as its sole upvalue.
func (s *State) Eval(fn *code.Proto) ([]any, error) {
	if s.closed {
		return nil, errors.New("state is closed")
	}
	main := s.main
	cls := &Closure{
		val:      fn,
		upvalues: []*upvalueBroker{{name: "_ENV", val: s.globals}},
	}
	ifn, err := main.stack.Push(cls)
	if err != nil {
		return nil, err
	}
	if err := main.pushCallstack(fn); err != nil {
		return nil, err
	}
	var xargs []any
	if argVal, _ := s.globals.Get("arg"); argVal != nil {
		if argTbl, isTbl := argVal.(*Table); isTbl {
			xargs = argTbl.val
		}
	}
	res, err := main.eval(&frame{
		fn:           fn,
		framePointer: ifn + 1,
		xargs:        xargs,
		upvals:       cls.upvalues,
	})
	if err != nil {
		if _, isExit := ExitCode(err); !isExit && s.conf.AtPanic != nil {
			s.conf.AtPanic(err)
		}
		return nil, err
	}
	return res, nil
}

// Call invokes a callable value on the main thread, outside of any protected
// boundary.
func (s *State) Call(fn any, args []any) ([]any, error) {
	if s.closed {
		return nil, errors.New("state is closed")
	}
	return s.main.call(fn, args)
}

// Close releases every thread owned by the state. Suspended coroutines are
// marked dead so a late resume fails rather than running against a torn down
// state. Close is idempotent.
func (s *State) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.threads {
		t.status = statusDead
		_ = t.stack.setRawTop(0)
	}
	s.threads = nil
	return nil
}
