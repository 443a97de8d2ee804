// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// Package sheap implements a non-freeing bump allocator over a single
// memory mapped region shared across cooperating processes, with
// deduplicated string interning on top. It is used to store per-stressor
// description strings once instead of once per process.
//
// The region stores offsets rather than pointers, so any process that maps
// the backing file (see File/FromFile) can walk the intern chain no matter
// where the mapping landed in its address space. Nothing is ever freed:
// entries are write-once and borrowed views stay valid for the lifetime of
// the heap.
package sheap

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/kstress/kstress/pkg/log"
	"github.com/kstress/kstress/pkg/osutil"
)

const (
	// Hard ceiling on the heap size.
	maxHeapSize = 64 << 10
	// Sizing estimate: how many distinct description strings the full
	// stressor catalog can produce, and their average length.
	maxDescriptions = 512
	avgDescription  = 32

	headerSize = 64
	ptrAlign   = 8
)

// header lives at offset 0 of the shared mapping.
// The futex word must stay 4-byte aligned.
type header struct {
	lock   uint32
	oom    uint32
	offset uint64 // next free byte, starts at headerSize
	head   uint64 // offset of the most recently interned entry, 0 = none
}

type Heap struct {
	file *os.File
	mem  []byte
}

// Init creates the shared heap sized for the full description catalog,
// clamped to the hard ceiling and rounded up to the page size.
func Init() (*Heap, error) {
	size := maxDescriptions * (avgDescription + ptrAlign)
	if size > maxHeapSize {
		size = maxHeapSize
	}
	return newHeap(size)
}

func newHeap(size int) (*Heap, error) {
	pageSize := os.Getpagesize()
	size = (size + pageSize - 1) &^ (pageSize - 1)
	f, mem, err := osutil.CreateMemMappedFile(size)
	if err != nil {
		return nil, fmt.Errorf("shared heap: %w", err)
	}
	h := &Heap{file: f, mem: mem}
	h.hdr().offset = headerSize
	return h, nil
}

// FromFile attaches to a heap created by a cooperating process.
// The caller keeps ownership of the file.
func FromFile(f *os.File) (*Heap, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shared heap: %w", err)
	}
	mem, err := osutil.MapFile(f, int(stat.Size()))
	if err != nil {
		return nil, fmt.Errorf("shared heap: %w", err)
	}
	return &Heap{mem: mem}, nil
}

// File returns the backing shared memory file for handing to children.
func (h *Heap) File() *os.File {
	return h.file
}

func (h *Heap) hdr() *header {
	return (*header)(unsafe.Pointer(&h.mem[0]))
}

// Alloc returns a view of size bytes of freshly allocated shared memory,
// or nil if the heap is exhausted or the lock cannot be taken. Exhaustion
// marks the heap out-of-memory; the mark is only reported at teardown to
// avoid flooding the log.
func (h *Heap) Alloc(size int) []byte {
	hdr := h.hdr()
	if err := h.lock(); err != nil {
		return nil
	}
	off := hdr.offset
	if uint64(len(h.mem))-off < uint64(size) {
		atomic.StoreUint32(&hdr.oom, 1)
		h.unlock()
		return nil
	}
	hdr.offset += (uint64(size) + ptrAlign - 1) &^ (ptrAlign - 1)
	h.unlock()
	return h.mem[off : off+uint64(size) : off+uint64(size)]
}

// Intern returns a shared copy of str, reusing an existing byte-identical
// entry if one was interned before. The returned view borrows from the
// region and must not be modified. Returns nil if the heap is exhausted;
// callers then fall back to their own process-local copy.
func (h *Heap) Intern(str string) []byte {
	hdr := h.hdr()
	if err := h.lock(); err != nil {
		return nil
	}
	for off := hdr.head; off != 0; off = h.entryNext(off) {
		if content := h.entryStr(off); string(content) == str {
			h.unlock()
			return content
		}
	}
	h.unlock()

	// 8 bytes chain link, the string, NUL terminator.
	buf := h.Alloc(ptrAlign + len(str) + 1)
	if buf == nil {
		return nil
	}
	copy(buf[ptrAlign:], str)
	buf[ptrAlign+len(str)] = 0
	content := buf[ptrAlign : ptrAlign+len(str) : ptrAlign+len(str)]

	// If we cannot re-acquire the lock the copy is still good, it just
	// does not get published for future dedup.
	if err := h.lock(); err != nil {
		return content
	}
	// A concurrent intern of the same string may have been published
	// while we did not hold the lock. Keep the chain duplicate-free and
	// let our copy go to waste, the arena never frees anyway.
	for off := hdr.head; off != 0; off = h.entryNext(off) {
		if existing := h.entryStr(off); string(existing) == str {
			h.unlock()
			return existing
		}
	}
	off := uint64(uintptr(unsafe.Pointer(&buf[0])) - uintptr(unsafe.Pointer(&h.mem[0])))
	*(*uint64)(unsafe.Pointer(&buf[0])) = hdr.head
	hdr.head = off
	h.unlock()
	return content
}

func (h *Heap) entryNext(off uint64) uint64 {
	return *(*uint64)(unsafe.Pointer(&h.mem[off]))
}

func (h *Heap) entryStr(off uint64) []byte {
	start := off + ptrAlign
	end := start
	for end < uint64(len(h.mem)) && h.mem[end] != 0 {
		end++
	}
	return h.mem[start:end:end]
}

// OffsetOf returns the region-relative offset of a view returned by Alloc,
// for handing to a process that maps the region at a different address.
func (h *Heap) OffsetOf(view []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&view[0])) - uintptr(unsafe.Pointer(&h.mem[0])))
}

// View returns the size-byte view at a region-relative offset.
func (h *Heap) View(off, size uint64) []byte {
	return h.mem[off : off+size : off+size]
}

// Usage returns the number of allocated bytes and the total capacity.
func (h *Heap) Usage() (used, capacity int) {
	return int(h.hdr().offset) - headerSize, len(h.mem) - headerSize
}

// OOM reports whether an allocation ever failed for lack of space.
func (h *Heap) OOM() bool {
	return atomic.LoadUint32(&h.hdr().oom) != 0
}

// Close unmaps the region. Idempotent, safe to call on a heap that was
// never successfully created.
func (h *Heap) Close() error {
	if h == nil || h.mem == nil {
		return nil
	}
	if h.OOM() {
		log.Logf(0, "shared heap: out of memory duplicating some strings, increase the heap ceiling to fix this")
	}
	if used, capacity := h.Usage(); used > 0 {
		log.Logf(1, "shared heap: used %v of %v bytes", used, capacity)
	}
	mem := h.mem
	h.mem = nil
	if h.file != nil {
		f := h.file
		h.file = nil
		return osutil.CloseMemMappedFile(f, mem)
	}
	return unmap(mem)
}
