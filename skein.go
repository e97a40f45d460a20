package skein

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/skein-lang/skein/src/asm"
	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/runtime"
)

// Runtime couples a state with a compiler. It is the handle hosts hold onto;
// like the state it wraps, it is confined to one goroutine at a time.
type Runtime struct {
	state    *runtime.State
	compiler code.Compiler
}

// New creates a runtime. A nil compiler selects the bytecode assembler.
// Options are forwarded to the state.
func New(ctx context.Context, compiler code.Compiler, opts ...runtime.Option) *Runtime {
	if compiler == nil {
		compiler = asm.New()
	}
	return &Runtime{
		state:    runtime.New(ctx, opts...),
		compiler: compiler,
	}
}

// State exposes the underlying state for global registration, thread
// creation and direct calls.
func (r *Runtime) State() *runtime.State { return r.state }

// Compile runs the configured compiler without executing the result.
func (r *Runtime) Compile(name string, src io.Reader) (*code.Proto, error) {
	return r.compiler.Compile(name, src)
}

// Run compiles a source and evaluates it on the main thread.
func (r *Runtime) Run(name string, src io.Reader) ([]any, error) {
	fn, err := r.compiler.Compile(name, src)
	if err != nil {
		return nil, err
	}
	return r.state.Eval(fn)
}

// RunString evaluates in-memory source text.
func (r *Runtime) RunString(name, src string) ([]any, error) {
	return r.Run(name, strings.NewReader(src))
}

// RunFile evaluates a source file, using its path as the chunk name.
func (r *Runtime) RunFile(path string) ([]any, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return r.Run(path, src)
}

// Close tears down the state. The runtime cannot be used afterwards.
func (r *Runtime) Close() error { return r.state.Close() }
