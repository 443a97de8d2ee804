// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// Package syswalk walks a kernel-exposed filesystem (normally /sys) and
// hammers whatever it finds. A single assigner walks the tree in a
// randomized order publishing one path at a time, while a pool of readers
// probes the published path with reads, bad-buffer reads and zero-length
// writes. Kernel bugs provoked this way can fault our own address space,
// so all risky work runs with fault checkpoints that convert a memory
// fault into a reported, clean failure of the run.
package syswalk

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstress/kstress/pkg/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	maxDepth     = 20               // hard recursion bound
	numReaders   = 4                // probe goroutines
	dwell        = 40 * time.Millisecond // pause after publishing a path
	drainDelay   = 50 * time.Millisecond // backoff after kmsg backlog
	maxReadChunk = 4096
	maxReadTotal = 4096 * 4096 // per-path read ceiling
	kmsgDevice   = "/dev/kmsg"
)

type Config struct {
	// Root of the walk, /sys if empty.
	Root string
	// Per-path wall-clock probe budget, 200ms if zero.
	ProbeBudget time.Duration
	// Total run duration, unbounded if zero (the context bounds it).
	Duration time.Duration
	// Verify additionally fstats every file it opens.
	Verify bool
	// Seed for the traversal order, time-based if zero.
	Seed int64

	// Called after each path is published; used to inject faults.
	onPublish func(path string)
}

type Walker struct {
	cfg    Config
	rnd    *rand.Rand
	kmsgFd int
	// badbuf is a PROT_NONE page handed to the kernel as a read target.
	badbuf []byte

	mu   sync.Mutex
	path string // the shared cursor, "" = nothing published

	visited atomic.Uint64
	drains  atomic.Uint64
	aborted atomic.Bool
}

func New(cfg Config) *Walker {
	if cfg.Root == "" {
		cfg.Root = "/sys"
	}
	if cfg.ProbeBudget == 0 {
		cfg.ProbeBudget = 200 * time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Walker{
		cfg:    cfg,
		rnd:    rand.New(rand.NewSource(cfg.Seed)),
		kmsgFd: -1,
	}
}

// Visited returns the number of files published to the readers so far.
func (w *Walker) Visited() int {
	return int(w.visited.Load())
}

// Drains returns the number of kmsg backpressure events observed.
func (w *Walker) Drains() int {
	return int(w.drains.Load())
}

// Run walks the tree until the duration or context expires, or until a
// memory fault aborts the run. The fault is returned as an error naming
// the path that was active when it hit.
func (w *Walker) Run(ctx context.Context) error {
	if w.cfg.Duration != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Duration)
		defer cancel()
	}
	// The bad read buffer: mapped but inaccessible, so the kernel's
	// copy-out fails with EFAULT instead of faulting us.
	badbuf, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("failed to map probe buffer: %w", err)
	}
	w.badbuf = badbuf
	// kmsg is optional: without it the backpressure check is disabled.
	w.kmsgFd, err = unix.Open(kmsgDevice, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		log.Logf(2, "syswalk: no %v, backpressure check disabled", kmsgDevice)
		w.kmsgFd = -1
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numReaders; i++ {
		seed := w.cfg.Seed + int64(i) + 1
		g.Go(func() error {
			return w.reader(ctx, rand.New(rand.NewSource(seed)))
		})
	}
	walkErr := w.checkpoint(func() {
		w.walkDir(ctx, w.cfg.Root, 0)
	})

	// Shutdown: clear the cursor so readers idle, then stop them.
	w.mu.Lock()
	w.path = ""
	w.mu.Unlock()
	cancel()
	err = g.Wait()
	if err == nil || err == context.Canceled || err == context.DeadlineExceeded {
		err = nil
	}
	if walkErr == nil {
		walkErr = err
	}

	unix.Munmap(w.badbuf)
	w.badbuf = nil
	if w.kmsgFd >= 0 {
		unix.Close(w.kmsgFd)
		w.kmsgFd = -1
	}
	if walkErr != nil {
		log.Logf(0, "syswalk: %v", walkErr)
	}
	return walkErr
}

// checkpoint runs fn on the current goroutine with memory faults turned
// into recoverable panics, and converts such a panic into an error that
// names the active path. Other panics are re-raised.
func (w *Walker) checkpoint(fn func()) (err error) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r.(type) {
		case faultError, runtime.Error:
		default:
			panic(r)
		}
		w.aborted.Store(true)
		err = fmt.Errorf("memory fault while processing %q: %v", w.activePath(), r)
	}()
	fn()
	return nil
}

// faultError lets tests raise a synthetic memory fault.
type faultError struct{}

func (faultError) Error() string { return "synthetic memory fault" }

func (w *Walker) activePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *Walker) publish(path string) {
	w.mu.Lock()
	w.path = path
	w.mu.Unlock()
	w.visited.Add(1)
	if w.cfg.onPublish != nil {
		w.cfg.onPublish(path)
	}
}
