// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package sheap

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/kstress/kstress/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInternDedup(t *testing.T) {
	h, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	s1 := h.Intern("cpu.user_time")
	s2 := h.Intern("cpu.user_time")
	if s1 == nil || s2 == nil {
		t.Fatal("intern failed")
	}
	assert.Equal(t, "cpu.user_time", string(s1))
	if &s1[0] != &s2[0] {
		t.Fatalf("dedup failed: distinct storage for identical strings")
	}
	s3 := h.Intern("cpu.sys_time")
	assert.Equal(t, "cpu.sys_time", string(s3))
	if &s1[0] == &s3[0] {
		t.Fatalf("distinct strings share storage")
	}
}

func TestInternNoRealloc(t *testing.T) {
	h, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	h.Intern("some description")
	used, _ := h.Usage()
	h.Intern("some description")
	used2, _ := h.Usage()
	assert.Equal(t, used, used2, "second intern of the same string allocated")
}

func TestAllocMonotonic(t *testing.T) {
	h, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	rnd := rand.New(testutil.RandSource(t))
	var prev []byte
	prevUsed, _ := h.Usage()
	for i := 0; i < 100; i++ {
		size := 1 + rnd.Intn(64)
		buf := h.Alloc(size)
		if buf == nil {
			t.Fatalf("alloc %v failed with free space available", size)
		}
		assert.Len(t, buf, size)
		used, _ := h.Usage()
		if used < prevUsed+size {
			t.Fatalf("offset advanced by %v for size %v", used-prevUsed, size)
		}
		if prev != nil {
			prevEnd := uintptr(unsafe.Pointer(&prev[len(prev)-1]))
			start := uintptr(unsafe.Pointer(&buf[0]))
			if start <= prevEnd {
				t.Fatalf("allocated regions overlap")
			}
		}
		prev = buf
		prevUsed = used
	}
}

func TestExhaustion(t *testing.T) {
	h, err := newHeap(1) // rounds up to one page
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	for i := 0; ; i++ {
		if h.Alloc(128) == nil {
			break
		}
		if i > 1000 {
			t.Fatal("heap never exhausted")
		}
	}
	if !h.OOM() {
		t.Fatal("out-of-memory flag not set")
	}
	used, _ := h.Usage()
	// Further calls must fail cleanly without moving the offset.
	assert.Nil(t, h.Alloc(128))
	assert.Nil(t, h.Intern(strings.Repeat("x", 256)))
	used2, _ := h.Usage()
	assert.Equal(t, used, used2)
	// Small interns that still fit must keep working on the intact chain.
	if s := h.Intern("x"); s != nil {
		assert.Equal(t, "x", string(s))
	}
}

func TestRemap(t *testing.T) {
	h, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	want := []string{"cpu.user_time", "cpu.sys_time", "io.bytes"}
	for _, s := range want {
		if h.Intern(s) == nil {
			t.Fatalf("intern %q failed", s)
		}
	}
	// A second mapping of the same file lands at a different address;
	// the offset-based chain must still dedup against existing entries.
	h2, err := FromFile(h.File())
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close()
	used, _ := h2.Usage()
	for _, s := range want {
		got := h2.Intern(s)
		if got == nil {
			t.Fatalf("intern %q failed on remapped heap", s)
		}
		assert.Equal(t, s, string(got))
	}
	used2, _ := h2.Usage()
	assert.Equal(t, used, used2, "remapped heap re-allocated existing strings")
}

func TestConcurrentIntern(t *testing.T) {
	h, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Intern(fmt.Sprintf("metric-%v", i%10))
			}
		}()
	}
	wg.Wait()
	seen := make(map[string]bool)
	for off := h.hdr().head; off != 0; off = h.entryNext(off) {
		s := string(h.entryStr(off))
		if seen[s] {
			t.Fatalf("duplicate published entry %q", s)
		}
		seen[s] = true
	}
}

func TestCloseIdempotent(t *testing.T) {
	h, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
	var nilHeap *Heap
	assert.NoError(t, nilHeap.Close())
}
