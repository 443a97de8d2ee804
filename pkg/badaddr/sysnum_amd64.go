// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux && amd64

package badaddr

import "golang.org/x/sys/unix"

// amd64 kept the historical "new" name for the modern fstatat syscall.
const sysFstatat = unix.SYS_NEWFSTATAT
