// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains helpers shared by command line tools: a uniform set
// of process exit codes and fail helpers. The distinguished no-resource code
// lets a supervising layer tell infrastructure failure (could not create a
// mapping, a lock, a process) from a genuine stress failure.
package tool

import (
	"errors"
	"fmt"
	"os"
)

// Process exit codes.
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitNoResource = 3
)

// ErrNoResource marks errors caused by a failure to allocate a needed
// resource rather than by the stress run itself.
var ErrNoResource = errors.New("cannot allocate resource")

// ExitCode maps an error to the corresponding process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrNoResource):
		return ExitNoResource
	default:
		return ExitFailure
	}
}

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(ExitFailure)
}

func Fail(err error) {
	fmt.Fprintf(os.Stderr, "%v\n", err)
	os.Exit(ExitCode(err))
}
