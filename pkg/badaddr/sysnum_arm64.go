// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux && arm64

package badaddr

import "golang.org/x/sys/unix"

const sysFstatat = unix.SYS_FSTATAT
