// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// Package badaddr exercises syscalls with invalid pointer arguments.
// Every (syscall, bad address) pairing runs in a disposable, resource
// limited child process so that whatever the kernel does to the caller
// only ever kills the child. The supervising process classifies the
// child's fate; a crashed or hung child is an expected, counted outcome,
// not a failure.
//
// Since Go programs cannot fork and keep running, children are re-execs
// of the current binary diverted into hidden child modes via environment
// variables. HandleChildMode must therefore be called at the very top
// of main.
package badaddr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/kstress/kstress/pkg/log"
	"github.com/kstress/kstress/pkg/osutil"
	"github.com/kstress/kstress/pkg/sheap"
)

const (
	trialEnv    = "KSTRESS_TRIAL"    // "<syscall>/<addr-class>": run one trial and exit
	loopEnv     = "KSTRESS_LOOP"     // duration: loop over the full matrix and exit
	watchdogEnv = "KSTRESS_WATCHDOG" // trial child watchdog interval
	counterEnv  = "KSTRESS_COUNTER"  // offset of the shared completed-trial counter on fd 3
)

type Config struct {
	// Binary to re-exec for child modes; defaults to the current executable.
	Executable string
	// Total run duration.
	Duration time.Duration
	// Watchdog interval for trial children (ITIMER_REAL).
	Watchdog time.Duration
	// Oomable ends the run cleanly when the stress child is OOM-killed
	// instead of restarting it.
	Oomable bool
	// Heap, if set, holds the shared completed-trial counter so the count
	// survives the stress child and is visible to the metrics layer.
	Heap *sheap.Heap

	counterOff uint64 // region offset of the counter cell, 0 = unallocated
}

// Counter returns a reader of the shared completed-trial counter cell,
// allocating the cell on first use. Returns nil if no heap is attached.
func (cfg *Config) Counter() func() int {
	cell := cfg.counterCell()
	if cell == nil {
		return nil
	}
	return func() int {
		return int(atomic.LoadUint64((*uint64)(cellPtr(cell))))
	}
}

func cellPtr(cell []byte) unsafe.Pointer {
	return unsafe.Pointer(&cell[0])
}

func (cfg *Config) counterCell() []byte {
	if cfg.Heap == nil {
		return nil
	}
	if cfg.counterOff == 0 {
		cell := cfg.Heap.Alloc(8)
		if cell == nil {
			return nil
		}
		cfg.counterOff = cfg.Heap.OffsetOf(cell)
	}
	return cfg.Heap.View(cfg.counterOff, 8)
}

// Run drives the whole stressor: it spawns one supervising child that loops
// over the (syscall x bad address) matrix and restarts it if it gets
// OOM-killed. Only infrastructure failures are returned as errors.
func Run(ctx context.Context, cfg *Config) error {
	exe := cfg.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return fmt.Errorf("cannot find own binary: %w", err)
		}
	}
	deadline := time.Now().Add(cfg.Duration)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return nil
		}
		cmd := osutil.Command(exe)
		// The stress child logs trial results on stderr, surface them at
		// the same verbosity the child emits them at.
		cmd.Stdout = log.VerboseWriter(3)
		cmd.Stderr = log.VerboseWriter(3)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%v=%v", loopEnv, remaining),
			fmt.Sprintf("%v=%v", watchdogEnv, cfg.Watchdog),
		)
		if cell := cfg.counterCell(); cell != nil {
			cmd.ExtraFiles = []*os.File{cfg.Heap.File()}
			cmd.Env = append(cmd.Env, fmt.Sprintf("%v=%v", counterEnv, cfg.counterOff))
		}
		if err := startWithRetry(cmd); err != nil {
			return fmt.Errorf("failed to start stress child: %w", err)
		}
		done := make(chan error, 1)
		go func() {
			done <- cmd.Wait()
		}()
		var err error
		select {
		case <-ctx.Done():
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
			return nil
		case err = <-done:
		}
		if err == nil {
			return nil
		}
		sig, signaled := osutil.ProcessSignal(cmd.ProcessState)
		if !signaled {
			return fmt.Errorf("stress child failed: %w", err)
		}
		log.Logf(1, "sysbadaddr: child died: %v", sig)
		if sig != syscall.SIGKILL {
			return nil
		}
		logMemInfo()
		if cfg.Oomable {
			log.Logf(1, "sysbadaddr: assuming killed by OOM killer, bailing out")
			return nil
		}
		log.Logf(1, "sysbadaddr: assuming killed by OOM killer, restarting")
	}
}

// Transient fork failures are retried, everything else is fatal.
func startWithRetry(cmd *exec.Cmd) error {
	var err error
	for i := 0; i < 10; i++ {
		err = cmd.Start()
		if err == nil || !isTransient(err) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return err
}

func isTransient(err error) bool {
	return strings.Contains(err.Error(), "resource temporarily unavailable")
}

func logMemInfo() {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return
	}
	lines := strings.SplitN(string(data), "\n", 4)
	log.Logf(1, "sysbadaddr: %v", strings.Join(lines[:len(lines)-1], " "))
}
