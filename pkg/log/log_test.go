// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"strings"
	"testing"
)

func init() {
	EnableLogCaching(3)
}

func TestCaching(t *testing.T) {
	tests := []struct{ str, want string }{
		{"", ""},
		{"a", "a\n"},
		{"bb", "a\nbb\n"},
		{"ccc", "a\nbb\nccc\n"},
		{"dddd", "bb\nccc\ndddd\n"},
		{"eeeee", "ccc\ndddd\neeeee\n"},
	}
	prependTime = false
	for _, test := range tests {
		Logf(1, "%v", test.str)
		out := CachedLogOutput()
		if out != test.want {
			t.Fatalf("wrote: %v\nwant: %v\ngot: %v", test.str, test.want, out)
		}
	}
}

func TestVerboseWriter(t *testing.T) {
	prependTime = false
	msg := "written via writer"
	n, err := VerboseWriter(1).Write([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(msg) {
		t.Fatalf("short write: %v/%v", n, len(msg))
	}
	if out := CachedLogOutput(); !strings.Contains(out, msg) {
		t.Fatalf("cached output misses writer line: %q", out)
	}
}
