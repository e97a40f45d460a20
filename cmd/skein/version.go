package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/skein-lang/skein/src/conf"
)

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		fmt.Printf("%v\nSystem: %v/%v\nCPUs:   %d\n", versionLine(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
		return nil
	}
	return c
}

func versionLine() string { return conf.FullVersion() }
