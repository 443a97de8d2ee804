// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package syswalk

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMixupSort(t *testing.T) {
	dir := t.TempDir()
	// Varying name lengths, otherwise the seed shifts every key equally.
	names := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff",
		"g1", "h22", "i333", "j4444", "k55555", "l666666"}
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	order := func(seed uint32) []string {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		mixupSort(entries, seed)
		got := make([]string, len(entries))
		for i, e := range entries {
			got[i] = e.Name()
		}
		return got
	}
	if diff := cmp.Diff(order(42), order(42)); diff != "" {
		t.Fatalf("same seed produced different orders:\n%v", diff)
	}
	base := order(0)
	differs := false
	for seed := uint32(1); seed <= 20 && !differs; seed++ {
		differs = cmp.Diff(base, order(seed)) != ""
	}
	assert.True(t, differs, "traversal order never varied across seeds")
}

func TestDenylist(t *testing.T) {
	assert.True(t, denied("PNP0A03:00"))
	assert.True(t, denied("VMBUS"))
	assert.False(t, denied("cpu0"))
	assert.False(t, denied("uevent"))
}

func TestDepthBound(t *testing.T) {
	root := t.TempDir()
	// A chain of directories deeper than the recursion cap, with a file
	// at each of the last few levels.
	dir := root
	for depth := 1; depth <= maxDepth+5; depth++ {
		dir = filepath.Join(dir, fmt.Sprintf("d%02d", depth))
		require.NoError(t, os.Mkdir(dir, 0755))
		if depth >= maxDepth-2 {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "leaf"), []byte("x"), 0644))
		}
	}
	var published []string
	w := New(Config{
		Root: root,
		Seed: 1,
		onPublish: func(path string) {
			published = append(published, path)
		},
	})
	require.NoError(t, w.Run(context.Background()))
	require.NotEmpty(t, published)
	assert.Equal(t, len(published), w.Visited())
	deepest := 0
	for _, path := range published {
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		// Number of directories between the root and the leaf file.
		depth := strings.Count(rel, string(filepath.Separator))
		if depth > deepest {
			deepest = depth
		}
	}
	assert.LessOrEqual(t, deepest, maxDepth+1, "walk recursed past the depth cap")
	assert.Greater(t, deepest, maxDepth-3, "walk never reached the deep levels")
}

func TestCrashRecovery(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "victim"), []byte("x"), 0644))
	w := New(Config{
		Root: root,
		Seed: 1,
		onPublish: func(path string) {
			panic(faultError{})
		},
	})
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory fault")
	assert.Contains(t, err.Error(), "victim")
}

func TestCheckpointPassesPanics(t *testing.T) {
	w := New(Config{Root: t.TempDir()})
	assert.Panics(t, func() {
		w.checkpoint(func() { panic("not a fault") })
	})
	require.NoError(t, w.checkpoint(func() {}))
}

func TestBackpressure(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK))
	defer unix.Close(fds[1])
	w := New(Config{Root: t.TempDir(), Seed: 1})
	w.kmsgFd = fds[0]
	defer func() {
		unix.Close(fds[0])
		w.kmsgFd = -1
	}()
	_, err := unix.Write(fds[1], []byte("<6>fake kernel message\n"))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	assert.Greater(t, w.drainKmsg(buf), 0)
	assert.Equal(t, 0, w.drainKmsg(buf), "second drain should find no backlog")

	// A reader observing a backlog must back off before probing again.
	_, err = unix.Write(fds[1], []byte("<6>more noise\n"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	w.reader(ctx, rand.New(rand.NewSource(1)))
	assert.GreaterOrEqual(t, time.Since(start), drainDelay)
	assert.GreaterOrEqual(t, w.Drains(), 1)
}

func TestProbeBudget(t *testing.T) {
	dir := t.TempDir()
	fifo := filepath.Join(dir, "queue")
	require.NoError(t, unix.Mkfifo(fifo, 0644))
	rfd, err := unix.Open(fifo, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(rfd)
	wfd, err := unix.Open(fifo, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(wfd)
	payload := []byte("0123456789")
	_, err = unix.Write(wfd, payload)
	require.NoError(t, err)

	// A spent budget must stop the probe before every one of its read
	// steps, not just before the next chunked-read pass.
	w := New(Config{Root: dir, Seed: 1, ProbeBudget: -time.Second})
	w.probe(fifo, rand.New(rand.NewSource(1)))

	buf := make([]byte, len(payload)+1)
	n, err := unix.Read(rfd, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n], "probe consumed data past its budget")
}

func TestWalkSysfs(t *testing.T) {
	if testing.Short() {
		t.Skip("pokes the real /sys")
	}
	if _, err := os.Stat("/sys/kernel"); err != nil {
		t.Skip("no /sys here")
	}
	w := New(Config{Duration: 2 * time.Second})
	require.NoError(t, w.Run(context.Background()))
	assert.Greater(t, w.Visited(), 0)
}
