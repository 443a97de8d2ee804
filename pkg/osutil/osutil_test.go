// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package osutil

import (
	"strings"
	"testing"
	"time"

	"github.com/kstress/kstress/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := Run(100*time.Millisecond, Command("sleep", "60"))
	if err == nil {
		t.Fatalf("sleep 60 succeeded within the timeout")
	}
	if !strings.Contains(err.Error(), "timedout") {
		t.Fatalf("expected timeout error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("took too long to kill the process: %v", elapsed)
	}
}

func TestRunOutput(t *testing.T) {
	out, err := Run(time.Minute, Command("echo", "-n", "hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestRunStreamOutput(t *testing.T) {
	// Pre-set writers take precedence over the combined output buffer.
	cmd := Command("echo", "-n", "streamed")
	cmd.Stdout = &testutil.Writer{TB: t}
	cmd.Stderr = &testutil.Writer{TB: t}
	out, err := Run(time.Minute, cmd)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemMappedFile(t *testing.T) {
	const size = 4 << 10
	f, mem, err := CreateMemMappedFile(size)
	if err != nil {
		t.Fatal(err)
	}
	copy(mem, "stored in shared memory")
	// A second mapping of the same file must observe the write,
	// the same way a cooperating process would.
	mem2, err := MapFile(f, size)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, mem[:32], mem2[:32])
	assert.NoError(t, unix.Munmap(mem2))
	assert.NoError(t, CloseMemMappedFile(f, mem))
}
