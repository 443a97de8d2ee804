// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package badaddr

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kstress/kstress/pkg/log"
	"github.com/kstress/kstress/pkg/osutil"
	"github.com/kstress/kstress/pkg/sheap"
	"golang.org/x/sys/unix"
)

// HandleChildMode diverts the process into a hidden child mode if the
// corresponding environment variable is set. Must be called at the very
// top of main (and of TestMain in tests that exercise the harness);
// it never returns in a child.
func HandleChildMode() {
	if spec := os.Getenv(trialEnv); spec != "" {
		os.Exit(runTrialChild(spec))
	}
	if d := os.Getenv(loopEnv); d != "" {
		runLoopChild(d)
		os.Exit(0)
	}
}

// Outcome classifies what the kernel did to a trial child.
type Outcome int

const (
	// OutcomeErrno: the child survived and exited with the syscall errno.
	OutcomeErrno Outcome = iota
	// OutcomeCrash: the child was terminated by a signal.
	OutcomeCrash
	// OutcomeHang: the child outlived its backstop timeout and was killed.
	OutcomeHang
)

type Result struct {
	Syscall string
	Addr    string
	Code    int
	Signal  syscall.Signal
	Outcome Outcome
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeCrash:
		return fmt.Sprintf("%v/%v: killed by %v", r.Syscall, r.Addr, r.Signal)
	case OutcomeHang:
		return fmt.Sprintf("%v/%v: hung", r.Syscall, r.Addr)
	default:
		return fmt.Sprintf("%v/%v: errno %v", r.Syscall, r.Addr, r.Code)
	}
}

// RunTrial executes a single (syscall, bad address) trial in a disposable
// child and classifies its exit status. The error return is only for
// harness infrastructure failures; a crashed or hung child is a Result.
func RunTrial(exe, sysName, addrName string, watchdog time.Duration) (Result, error) {
	res := Result{Syscall: sysName, Addr: addrName}
	cmd := osutil.Command(exe)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%v=%v/%v", trialEnv, sysName, addrName),
		fmt.Sprintf("%v=%v", watchdogEnv, watchdog),
	)
	// The child's own watchdog should fire long before this backstop.
	timeout := 20 * watchdog
	if timeout < time.Second {
		timeout = time.Second
	}
	_, err := osutil.Run(timeout, cmd)
	if err == nil {
		return res, nil
	}
	var verr *osutil.VerboseError
	if !errors.As(err, &verr) {
		// The child did not even start.
		return res, fmt.Errorf("failed to run trial child: %w", err)
	}
	if strings.Contains(verr.Title, "timedout") {
		res.Outcome = OutcomeHang
		return res, nil
	}
	if cmd.ProcessState != nil {
		if sig, ok := osutil.ProcessSignal(cmd.ProcessState); ok {
			res.Outcome = OutcomeCrash
			res.Signal = sig
			return res, nil
		}
		res.Code = osutil.ProcessExitStatus(cmd.ProcessState)
		return res, nil
	}
	res.Code = verr.ExitCode
	return res, nil
}

// runLoopChild iterates the full trial matrix until the deadline.
// It runs in its own process so that an OOM kill takes out the loop,
// not the controlling parent.
func runLoopChild(deadlineStr string) {
	d, err := time.ParseDuration(deadlineStr)
	if err != nil {
		log.Fatalf("bad %v value %q: %v", loopEnv, deadlineStr, err)
	}
	watchdog := watchdogFromEnv()
	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("cannot find own binary: %v", err)
	}
	// Make sure this process is the OOM killer's preferred victim.
	os.WriteFile("/proc/self/oom_score_adj", []byte("1000"), 0644)

	counter := attachCounter()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for _, sys := range Syscalls() {
			for _, addr := range AddrClasses() {
				if !time.Now().Before(deadline) {
					return
				}
				res, err := RunTrial(exe, sys, addr, watchdog)
				if err != nil {
					if isTransient(err) {
						time.Sleep(10 * time.Millisecond)
						continue
					}
					log.Logf(0, "sysbadaddr: %v", err)
					os.Exit(1)
				}
				log.Logf(3, "sysbadaddr: %v", res)
				if counter != nil {
					atomic.AddUint64(counter, 1)
				}
			}
		}
	}
}

func watchdogFromEnv() time.Duration {
	watchdog := 100 * time.Millisecond
	if s := os.Getenv(watchdogEnv); s != "" {
		if v, err := time.ParseDuration(s); err == nil {
			watchdog = v
		}
	}
	return watchdog
}

// attachCounter maps the shared heap inherited on fd 3 and returns the
// completed-trial counter cell, or nil if the parent did not pass one.
func attachCounter() *uint64 {
	offStr := os.Getenv(counterEnv)
	if offStr == "" {
		return nil
	}
	off, err := strconv.ParseUint(offStr, 10, 64)
	if err != nil {
		return nil
	}
	f := os.NewFile(3, "shared-heap")
	if f == nil {
		return nil
	}
	h, err := sheap.FromFile(f)
	if err != nil {
		log.Logf(0, "sysbadaddr: cannot attach shared heap: %v", err)
		return nil
	}
	return (*uint64)(cellPtr(h.View(off, 8)))
}

// runTrialChild performs one bad syscall and exits with its errno.
// The process never returns to normal control flow.
func runTrialChild(spec string) int {
	sysName, addrName, ok := strings.Cut(spec, "/")
	if !ok {
		return 1
	}
	call := findSyscall(sysName)
	class := findAddrClass(addrName)
	if call == nil || class == nil {
		return 1
	}

	// Keep the child from spawning or spinning. The process ceiling also
	// counts runtime threads, so it cannot be as tight as for a plain
	// single-threaded child.
	limitProcs(16)
	if err := dropPrivileges(); err != nil {
		return 3
	}
	// Any catchable fault or termination signal forces an immediate exit.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGILL, syscall.SIGTRAP, syscall.SIGBUS,
		syscall.SIGALRM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		<-sigs
		os.Exit(1)
	}()
	unix.Setpgid(0, 0)
	// Die when the parent does.
	unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGALRM), 0, 0, 0)
	// Memory faults inside this process become recoverable panics
	// instead of taking down the runtime silently.
	debug.SetPanicOnFault(true)

	// Force abort if the syscall blocks.
	watchdog := watchdogFromEnv()
	usec := watchdog.Microseconds()
	tv := unix.Timeval{Sec: usec / 1e6, Usec: usec % 1e6}
	if _, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{Interval: tv, Value: tv}); err != nil {
		return 3
	}

	pages, err := mapBadPages()
	if err != nil {
		return 3
	}
	addr := class.fn(pages)

	code := 1
	func() {
		defer func() {
			recover() // a fault during the syscall is an expected outcome
		}()
		code = call.fn(addr, pages)
	}()
	return code & 0xff
}

func limitProcs(procs uint64) {
	lim := unix.Rlimit{Cur: 1, Max: 1}
	unix.Setrlimit(unix.RLIMIT_CPU, &lim)
	lim = unix.Rlimit{Cur: procs, Max: procs}
	unix.Setrlimit(unix.RLIMIT_NPROC, &lim)
}

// dropPrivileges switches to the nobody uid/gid when running elevated so
// a wild syscall cannot use root credentials.
func dropPrivileges() error {
	if os.Geteuid() != 0 {
		return nil
	}
	const nobody = 65534
	if err := unix.Setresgid(nobody, nobody, nobody); err != nil {
		return err
	}
	return unix.Setresuid(nobody, nobody, nobody)
}
