// Command skein runs bytecode listings on the skein runtime.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/skein-lang/skein/src/runtime"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "skein",
		Short:         "skein scripting runtime",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return nil
	}
	rootCommand.AddCommand(
		newRunCommand(),
		newListCommand(),
		newREPLCommand(),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		if code, isExit := runtime.ExitCode(err); isExit {
			os.Exit(code)
		}
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "skein: ", log.StdFlags, nil),
		})
	})
}
