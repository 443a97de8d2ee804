// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package sheap

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex operation codes from <linux/futex.h>; x/sys/unix exports the
// futex syscall number but not these op constants.
const (
	_FUTEX_WAIT = 0
	_FUTEX_WAKE = 1
)

// The heap lock is a futex word inside the shared region itself, so that
// every process mapping the region contends on the same kernel wait queue.
// States: 0 free, 1 locked, 2 locked with waiters.

func (h *Heap) lockWord() *uint32 {
	return &h.hdr().lock
}

func (h *Heap) lock() error {
	w := h.lockWord()
	if atomic.CompareAndSwapUint32(w, 0, 1) {
		return nil
	}
	for {
		if atomic.LoadUint32(w) == 2 || atomic.CompareAndSwapUint32(w, 1, 2) {
			if err := futexWait(w, 2); err != nil {
				return err
			}
		}
		if atomic.CompareAndSwapUint32(w, 0, 2) {
			return nil
		}
	}
}

func (h *Heap) unlock() {
	w := h.lockWord()
	if atomic.SwapUint32(w, 0) == 2 {
		futexWake(w)
	}
}

func futexWait(addr *uint32, val uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAIT), uintptr(val), 0, 0, 0)
	// EAGAIN means the word changed under us, EINTR a stray signal.
	if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR {
		return errno
	}
	return nil
}

func futexWake(addr *uint32) {
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAKE), 1, 0, 0, 0)
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
