package skein

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/skein-lang/skein/src/runtime"
)

// REPL reads listings interactively and evaluates each complete chunk on the
// main thread. A chunk is complete when the compiler accepts it; a compile
// error wrapping io.EOF means more input is needed, so the buffer is kept and
// the prompt switches to a continuation prompt. Ctrl-c clears the buffer
// first, then quits.
func (r *Runtime) REPL() error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()
	buf := bytes.NewBuffer(nil)
	for {
		src, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if buf.Len() > 0 {
					rl.SetPrompt("> ")
					buf.Reset()
					fmt.Fprint(os.Stderr, "Press ctrl-c again to quit.\n")
					continue
				}
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		buf.WriteString(src + "\n")
		fn, err := r.compiler.Compile("<repl>", strings.NewReader(buf.String()))
		if err != nil {
			if errors.Is(err, io.EOF) {
				rl.SetPrompt("...> ")
				continue
			}
			rl.SetPrompt("> ")
			buf.Reset()
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		rl.SetPrompt("> ")
		buf.Reset()
		res, err := r.state.Eval(fn)
		if err != nil {
			if code, isExit := runtime.ExitCode(err); isExit {
				os.Exit(code)
			}
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		parts := []string{}
		for _, val := range res {
			if val != nil {
				parts = append(parts, runtime.ToString(val))
			}
		}
		if len(parts) > 0 {
			fmt.Fprintln(os.Stderr, strings.Join(parts, "\t"))
		}
	}
}
