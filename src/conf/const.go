// Package conf contains the constants that are used across packages for configuring
// versions, stack sizes and call depth limits.
package conf

import (
	"fmt"
	"time"
)

const (
	// SIGNATURE is placed at the beginning of a dumped chunk so that binary
	// listings can be detected.
	SIGNATURE = "\x1bSkein"
	// VERSION is the version of the skein runtime.
	VERSION = "Skein 0.1.0"
	// VERSIONMAJORN is the major version.
	VERSIONMAJORN = 0
	// VERSIONMINORN is the minor version.
	VERSIONMINORN = 1
	// VERSIONPATCHN is the patch version.
	VERSIONPATCHN = 0
	// INITIALSTACKSIZE is the register stack size at thread startup.
	INITIALSTACKSIZE = 128
	// MAXSTACKSIZE is the default hard limit on a thread's register stack.
	// Growth past this limit is a stack overflow. Hosts can lower the limit
	// per state.
	MAXSTACKSIZE = 1 << 24
	// MAXCALLDEPTH is the default limit of nested activation frames.
	MAXCALLDEPTH = 200_000
	// MAXUPVALUES max allowed upvalues referred to in a fn scope.
	MAXUPVALUES = 255
	// MAXCONST max amount of constants that a prototype can store.
	MAXCONST = 64_536
	// MAXRESULTS max amount of return values.
	MAXRESULTS = 250
	// GCPAUSE minimum number of allocations before the collector is nudged.
	GCPAUSE = 200
)

// FullVersion returns the version and copyright.
func FullVersion() string {
	return fmt.Sprintf("%v Copyright (C) %v", VERSION, time.Now().Year())
}

// Copyright is the copyright to be written out in the CLI.
func Copyright() string {
	return fmt.Sprintf("Copyright (C) %v", time.Now().Year())
}
