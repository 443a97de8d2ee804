// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package syswalk

import (
	"context"
	"math/rand"
	"os"
	"runtime/debug"
	"time"

	"github.com/kstress/kstress/pkg/log"
	"golang.org/x/sys/unix"
)

// reader repeatedly probes whatever path is currently published.
// It runs until the context is cancelled or a memory fault aborts the run.
func (w *Walker) reader(ctx context.Context, rnd *rand.Rand) error {
	debug.SetPanicOnFault(true)
	kmsgBuf := make([]byte, 4096)
	for ctx.Err() == nil && !w.aborted.Load() {
		// If the kernel log is backing up we are likely the cause.
		// Back off before probing more.
		if n := w.drainKmsg(kmsgBuf); n > 0 {
			w.drains.Add(1)
			sleep(ctx, drainDelay)
			continue
		}
		path := w.activePath()
		if path == "" {
			sleep(ctx, time.Millisecond)
			continue
		}
		if err := w.checkpoint(func() { w.probe(path, rnd) }); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// probe exercises one path: bounded random-size reads, a zero-length
// read, a read into an inaccessible buffer, and for unprivileged runs a
// zero-length write. Individual probe errors are the whole point and are
// silently absorbed; only the wall-clock budget bounds the work.
func (w *Walker) probe(path string, rnd *rand.Rand) {
	deadline := time.Now().Add(w.cfg.ProbeBudget)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err == nil {
		if w.cfg.Verify {
			var st unix.Stat_t
			if err := unix.Fstat(fd, &st); err != nil {
				log.Logf(0, "syswalk: fstat %v failed on open fd: %v", path, err)
			}
		}
		buf := make([]byte, maxReadChunk)
		total := 0
		for total < maxReadTotal && time.Now().Before(deadline) {
			n, err := unix.Read(fd, buf[:1+rnd.Intn(maxReadChunk)])
			if err != nil || n <= 0 {
				break
			}
			total += n
		}
		// Each step re-checks the budget so a slow file cannot drag one
		// probe past it.
		if time.Now().Before(deadline) {
			unix.Read(fd, nil)
		}
		if time.Now().Before(deadline) {
			// The kernel's copy-out into a PROT_NONE page must fail with
			// EFAULT, not corrupt anything.
			unix.Read(fd, w.badbuf)
		}
		unix.Close(fd)
	}
	if os.Geteuid() != 0 && time.Now().Before(deadline) {
		if wfd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			unix.Write(wfd, nil)
			unix.Close(wfd)
		}
	}
}

// drainKmsg reads everything immediately available from /dev/kmsg and
// returns the number of bytes drained. Zero means no backlog.
func (w *Walker) drainKmsg(buf []byte) int {
	if w.kmsgFd < 0 {
		return 0
	}
	total := 0
	for {
		n, err := unix.Read(w.kmsgFd, buf)
		if err != nil || n <= 0 {
			break
		}
		total += n
	}
	return total
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
