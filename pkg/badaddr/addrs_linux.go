// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package badaddr

import (
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// badPages holds the purpose-built mappings that trials aim syscalls at.
type badPages struct {
	ro       uintptr // page mapped PROT_READ
	pageEnd  uintptr // last byte of a mapping, next page unmapped
	unmapped uintptr // first byte past the mapping
	pageSize uintptr
}

type addrClass struct {
	name string
	fn   func(p *badPages) uintptr
}

var unalignedCell [2]uint64

var addrClasses = []addrClass{
	{"null", func(p *badPages) uintptr { return 0 }},
	{"ro-page", func(p *badPages) uintptr { return p.ro }},
	{"page-end", func(p *badPages) uintptr { return p.pageEnd }},
	{"unmapped", func(p *badPages) uintptr { return p.unmapped }},
	{"max", func(p *badPages) uintptr { return ^uintptr(0) }},
	{"text", func(p *badPages) uintptr { return reflect.ValueOf(mapBadPages).Pointer() }},
	{"unaligned", func(p *badPages) uintptr { return uintptr(unsafe.Pointer(&unalignedCell[0])) + 1 }},
}

// AddrClasses returns the names of all bad address classes, in trial order.
func AddrClasses() []string {
	names := make([]string, len(addrClasses))
	for i, c := range addrClasses {
		names[i] = c.name
	}
	return names
}

func findAddrClass(name string) *addrClass {
	for i := range addrClasses {
		if addrClasses[i].name == name {
			return &addrClasses[i]
		}
	}
	return nil
}

// mapBadPages sets up the trial mappings. Called once per trial child,
// the mappings are never released (the process exits right after).
func mapBadPages() (*badPages, error) {
	pageSize := uintptr(unix.Getpagesize())
	p := &badPages{pageSize: pageSize}

	b, err := unix.Mmap(-1, 0, int(pageSize), unix.PROT_READ,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	p.ro = uintptr(unsafe.Pointer(&b[0]))

	// Two adjacent pages, then unmap the second so that a buffer starting
	// at the last byte of the first runs off into unmapped memory.
	b, err = unix.Mmap(-1, 0, int(2*pageSize), unix.PROT_READ,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	base := uintptr(unsafe.Pointer(&b[0]))
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, base+pageSize, pageSize, 0); errno != 0 {
		return nil, errno
	}
	p.pageEnd = base + pageSize - 1
	p.unmapped = base + pageSize
	return p, nil
}
