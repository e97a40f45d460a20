package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/skein-lang/skein"
	"github.com/skein-lang/skein/src/asm"
	"github.com/skein-lang/skein/src/runtime"
)

type runOptions struct {
	execute     string
	compileOnly bool
	interactive bool
}

func newRunCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "run [options] [script [args]]",
		Short:                 "run a listing from a file, a string or stdin",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ArbitraryArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(runOptions)
	c.Flags().StringVarP(&opts.execute, "execute", "e", "", "run the listing `src` instead of a file")
	c.Flags().BoolVarP(&opts.compileOnly, "compile-only", "c", false, "assemble without running")
	c.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "enter the repl after the script finishes")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), opts, args)
	}
	return c
}

func runRun(ctx context.Context, opts *runOptions, args []string) error {
	rt := skein.New(ctx, nil, runtime.WithArgs(args...))
	defer func() {
		if err := rt.Close(); err != nil {
			log.Errorf(ctx, "close: %v", err)
		}
	}()

	name, src, err := pickSource(opts, args)
	if err != nil {
		return err
	}
	if src != nil {
		if closer, ok := src.(io.Closer); ok {
			defer func() { _ = closer.Close() }()
		}
		if opts.compileOnly {
			_, err = rt.Compile(name, src)
		} else {
			_, err = rt.Run(name, src)
		}
		if err != nil {
			return err
		}
		log.Debugf(ctx, "%v finished", name)
	}
	if opts.interactive || src == nil {
		fmt.Fprintf(os.Stderr, "%v\nPress ctrl-c to quit or clear the current buffer.\n", versionLine())
		return rt.REPL()
	}
	return nil
}

// pickSource decides what to execute: -e text, a piped stdin, or the first
// positional argument as a file path. A nil reader means nothing was given
// and the repl should start.
func pickSource(opts *runOptions, args []string) (string, io.Reader, error) {
	if opts.execute != "" {
		return "<string>", strings.NewReader(opts.execute), nil
	}
	if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		return "<stdin>", os.Stdin, nil
	}
	if len(args) > 0 {
		src, err := os.Open(args[0])
		if err != nil {
			return "", nil, err
		}
		return args[0], src, nil
	}
	return "", nil, nil
}

func newListCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "list script",
		Short:                 "assemble a listing and print its normalized form",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		fn, err := asm.New().Compile(args[0], src)
		if err != nil {
			return err
		}
		fmt.Print(asm.Disassemble(fn))
		return nil
	}
	return c
}

func newREPLCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "repl",
		Short:                 "start an interactive session",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(os.Stderr, "%v\nPress ctrl-c to quit or clear the current buffer.\n", versionLine())
		rt := skein.New(cmd.Context(), nil)
		defer func() { _ = rt.Close() }()
		return rt.REPL()
	}
	return c
}
