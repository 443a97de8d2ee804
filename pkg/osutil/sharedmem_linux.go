// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package osutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateSharedMemFile creates an anonymous shared memory file with memfd_create.
// The file can be passed to child processes that then map the same memory.
func CreateSharedMemFile(size int) (*os.File, error) {
	// The name is only a debugging aid and does not need to be unique.
	fd, err := unix.MemfdCreate("kstress-shared-mem", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to do memfd_create: %w", err)
	}
	return os.NewFile(uintptr(fd), fmt.Sprintf("/proc/self/fd/%d", fd)), nil
}

// CreateMemMappedFile creates a shared memory file of the requested size
// and maps it into memory with share-across-process semantics.
func CreateMemMappedFile(size int) (f *os.File, mem []byte, err error) {
	f, err = CreateSharedMemFile(size)
	if err != nil {
		return
	}
	if err = f.Truncate(int64(size)); err != nil {
		err = fmt.Errorf("failed to truncate shared mem file: %w", err)
		f.Close()
		return
	}
	mem, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		err = fmt.Errorf("failed to mmap shared mem file: %w", err)
		f.Close()
	}
	return
}

// MapFile maps an existing shared memory file (e.g. one inherited from the
// parent process) with share-across-process semantics.
func MapFile(f *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap shared mem file: %w", err)
	}
	return mem, nil
}

// CloseMemMappedFile destroys a memory mapping created by CreateMemMappedFile.
func CloseMemMappedFile(f *os.File, mem []byte) error {
	err1 := unix.Munmap(mem)
	err2 := f.Close()
	switch {
	case err1 != nil:
		return err1
	case err2 != nil:
		return err2
	default:
		return nil
	}
}
