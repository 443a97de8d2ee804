// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package badaddr

import (
	"debug/elf"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AT_FDCWD is negative; a constant conversion to uintptr is a compile
// error, so go through a variable to get the two's-complement value.
var atFdcwd = unix.AT_FDCWD

// sysCall invokes one syscall with the bad address wired into its
// pointer arguments and returns the errno (0 if it somehow succeeded).
type sysCall struct {
	name string
	fn   func(addr uintptr, p *badPages) int
}

// Syscalls returns the names of all trial syscalls, in trial order.
func Syscalls() []string {
	names := make([]string, len(sysCalls))
	for i, c := range sysCalls {
		names[i] = c.name
	}
	return names
}

func findSyscall(name string) *sysCall {
	for i := range sysCalls {
		if sysCalls[i].name == name {
			return &sysCalls[i]
		}
	}
	return nil
}

var (
	devOnce sync.Once
	zeroFd  uintptr
	nullFd  uintptr
	dotPath = []byte(".\x00")
)

func devFds() (zero, null uintptr) {
	devOnce.Do(func() {
		if fd, err := unix.Open("/dev/zero", unix.O_RDONLY, 0); err == nil {
			zeroFd = uintptr(fd)
		}
		if fd, err := unix.Open("/dev/null", unix.O_WRONLY, 0); err == nil {
			nullFd = uintptr(fd)
		}
	})
	return zeroFd, nullFd
}

func dot() uintptr {
	return uintptr(unsafe.Pointer(&dotPath[0]))
}

func errnoOf(e unix.Errno) int {
	return int(e)
}

// Only syscalls whose numbers exist on both amd64 and arm64 are used,
// so the matrix is identical across the architectures we run on.
// fstatat is spelled differently per arch (SYS_NEWFSTATAT on amd64,
// SYS_FSTATAT on arm64), so its number comes from a per-arch constant.
var sysCalls = []sysCall{
	{"read", func(a uintptr, p *badPages) int {
		zero, _ := devFds()
		_, _, e := unix.Syscall(unix.SYS_READ, zero, a, 1)
		return errnoOf(e)
	}},
	{"write", func(a uintptr, p *badPages) int {
		_, null := devFds()
		_, _, e := unix.Syscall(unix.SYS_WRITE, null, a, 1)
		return errnoOf(e)
	}},
	{"pread64", func(a uintptr, p *badPages) int {
		zero, _ := devFds()
		_, _, e := unix.Syscall6(unix.SYS_PREAD64, zero, a, 1, 0, 0, 0)
		return errnoOf(e)
	}},
	{"pwrite64", func(a uintptr, p *badPages) int {
		_, null := devFds()
		_, _, e := unix.Syscall6(unix.SYS_PWRITE64, null, a, 1, 0, 0, 0)
		return errnoOf(e)
	}},
	{"readv", func(a uintptr, p *badPages) int {
		zero, _ := devFds()
		_, _, e := unix.Syscall(unix.SYS_READV, zero, a, 1)
		return errnoOf(e)
	}},
	{"writev", func(a uintptr, p *badPages) int {
		_, null := devFds()
		_, _, e := unix.Syscall(unix.SYS_WRITEV, null, a, 1)
		return errnoOf(e)
	}},
	{"openat", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_OPENAT, uintptr(atFdcwd), a,
			unix.O_RDONLY, 0, 0, 0)
		return errnoOf(e)
	}},
	{"faccessat", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_FACCESSAT, uintptr(atFdcwd), a,
			unix.R_OK, 0, 0, 0)
		return errnoOf(e)
	}},
	{"fstatat", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(sysFstatat, uintptr(atFdcwd),
			dot(), a, 0, 0, 0)
		return errnoOf(e)
	}},
	{"statfs", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_STATFS, dot(), a, 0)
		return errnoOf(e)
	}},
	{"utimensat", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_UTIMENSAT, uintptr(atFdcwd),
			a, 0, 0, 0, 0)
		return errnoOf(e)
	}},
	{"getcwd", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETCWD, a, p.pageSize, 0)
		return errnoOf(e)
	}},
	{"gettimeofday", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETTIMEOFDAY, a, 0, 0)
		return errnoOf(e)
	}},
	{"clock_gettime", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_CLOCK_GETTIME, unix.CLOCK_REALTIME, a, 0)
		return errnoOf(e)
	}},
	{"clock_getres", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_CLOCK_GETRES, unix.CLOCK_REALTIME, a, 0)
		return errnoOf(e)
	}},
	{"clock_nanosleep", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_CLOCK_NANOSLEEP, unix.CLOCK_REALTIME,
			0, a, a, 0, 0)
		return errnoOf(e)
	}},
	{"nanosleep", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_NANOSLEEP, a, a, 0)
		return errnoOf(e)
	}},
	{"getrandom", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETRANDOM, a, 1, 0)
		return errnoOf(e)
	}},
	{"getrusage", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETRUSAGE, uintptr(unix.RUSAGE_SELF), a, 0)
		return errnoOf(e)
	}},
	{"prlimit64", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_PRLIMIT64, 0, unix.RLIMIT_CPU, 0, a, 0, 0)
		return errnoOf(e)
	}},
	{"sigaltstack", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_SIGALTSTACK, 0, a, 0)
		return errnoOf(e)
	}},
	{"uname", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_UNAME, a, 0, 0)
		return errnoOf(e)
	}},
	{"sysinfo", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_SYSINFO, a, 0, 0)
		return errnoOf(e)
	}},
	{"times", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_TIMES, a, 0, 0)
		return errnoOf(e)
	}},
	{"sched_getaffinity", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_SCHED_GETAFFINITY, 0, 8, a)
		return errnoOf(e)
	}},
	{"sched_rr_get_interval", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_SCHED_RR_GET_INTERVAL, 0, a, 0)
		return errnoOf(e)
	}},
	{"getgroups", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETGROUPS, 8, a, 0)
		return errnoOf(e)
	}},
	{"getresuid", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETRESUID, a, a, a)
		return errnoOf(e)
	}},
	{"getresgid", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETRESGID, a, a, a)
		return errnoOf(e)
	}},
	{"pipe2", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_PIPE2, a, 0, 0)
		return errnoOf(e)
	}},
	{"ppoll", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_PPOLL, a, 1, 0, 0, 0, 0)
		return errnoOf(e)
	}},
	{"pselect6", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_PSELECT6, 1, a, 0, 0, a, 0)
		return errnoOf(e)
	}},
	{"mincore", func(a uintptr, p *badPages) int {
		base := a &^ (p.pageSize - 1)
		_, _, e := unix.Syscall(unix.SYS_MINCORE, base, p.pageSize, a)
		return errnoOf(e)
	}},
	{"madvise", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_MADVISE, a, p.pageSize, unix.MADV_NORMAL)
		return errnoOf(e)
	}},
	{"getitimer", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_GETITIMER, uintptr(unix.ITIMER_REAL), a, 0)
		return errnoOf(e)
	}},
	{"waitid", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_WAITID, unix.P_ALL, 0, a,
			unix.WEXITED|unix.WNOHANG, 0, 0)
		return errnoOf(e)
	}},
	{"wait4", func(a uintptr, p *badPages) int {
		pid := ^uintptr(0) // -1: any child
		_, _, e := unix.Syscall6(unix.SYS_WAIT4, pid, a, unix.WNOHANG, a, 0, 0)
		return errnoOf(e)
	}},
	{"execve", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_EXECVE, a, a, a)
		return errnoOf(e)
	}},
	{"getxattr", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_GETXATTR, dot(), a, a, p.pageSize, 0, 0)
		return errnoOf(e)
	}},
	{"ioctl", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_IOCTL, 0, unix.TCGETS, a)
		return errnoOf(e)
	}},
	{"ptrace", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET, 0,
			uintptr(elf.NT_PRSTATUS), a, 0, 0)
		return errnoOf(e)
	}},
	{"timer_create", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall(unix.SYS_TIMER_CREATE, unix.CLOCK_REALTIME, a, a)
		return errnoOf(e)
	}},
	{"get_mempolicy", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_GET_MEMPOLICY, a, a, 64, 0, 0, 0)
		return errnoOf(e)
	}},
	{"migrate_pages", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_MIGRATE_PAGES, 0, 64, a, a, 0, 0)
		return errnoOf(e)
	}},
	{"move_pages", func(a uintptr, p *badPages) int {
		_, _, e := unix.Syscall6(unix.SYS_MOVE_PAGES, 0, 1, a, a, a, 0)
		return errnoOf(e)
	}},
}
