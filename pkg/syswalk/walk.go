// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package syswalk

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Paths that are known to wedge or crash the machine when poked.
var denylist = []string{
	"PNP0A03", // ACPI PCI root bridge, hangs some firmware
	"VMBUS",   // Hyper-V channels
}

func denied(name string) bool {
	for _, d := range denylist {
		if strings.Contains(name, d) {
			return true
		}
	}
	return false
}

// Readers probe with group/other credentials in mind, so only files the
// unprivileged world can touch are worth publishing.
const permMask = 0o066

// walkDir recursively publishes the files under dir, in a per-directory
// randomized order. The order is deterministic for a given seed so a
// crashing path can be replayed.
func (w *Walker) walkDir(ctx context.Context, dir string, depth int) {
	if depth > maxDepth || w.aborted.Load() || ctx.Err() != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // permission or teardown races, not our problem
	}
	mixupSort(entries, w.rnd.Uint32())
	for _, e := range entries {
		if w.aborted.Load() || ctx.Err() != nil {
			return
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || denied(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode().Perm()&permMask == 0 {
			continue
		}
		path := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			w.walkDir(ctx, path, depth+1)
		case info.Mode().IsRegular():
			w.publish(path)
			// Give the readers a chance to pick the path up before
			// it is replaced.
			select {
			case <-ctx.Done():
				return
			case <-time.After(dwell):
			}
		}
	}
}

// mixupSort orders entries by a rotating checksum of their names seeded
// per call, randomizing traversal across runs while keeping it stable
// within one.
func mixupSort(entries []os.DirEntry, seed uint32) {
	key := func(name string) uint32 {
		sum := seed
		for i := 0; i < len(name); i++ {
			sum = sum<<1 + uint32(name[i])
		}
		return sum
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return key(entries[i].Name()) < key(entries[j].Name())
	})
}
