// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log is a thin layer over the standard log package that adds
// verbosity levels shared by all packages and optional in-memory caching
// of recent output, so that it can be attached to crash reports.
package log

import (
	"flag"
	"fmt"
	golog "log"
	"strings"
	"sync"
	"time"
)

var (
	flagV       = flag.Int("vv", 0, "verbosity")
	mu          sync.Mutex
	cache       []string
	cachePos    int
	prependTime = true // for testing
)

// EnableLogCaching starts caching the last maxLines lines of output in memory.
// The cached output can later be retrieved with CachedLogOutput.
func EnableLogCaching(maxLines int) {
	mu.Lock()
	defer mu.Unlock()
	if cache != nil {
		Fatalf("log caching is already enabled")
	}
	if maxLines < 1 {
		panic("invalid maxLines")
	}
	cache = make([]string, maxLines)
}

// CachedLogOutput returns the currently cached log output, oldest line first.
func CachedLogOutput() string {
	mu.Lock()
	defer mu.Unlock()
	buf := new(strings.Builder)
	for i := range cache {
		pos := (cachePos + i) % len(cache)
		if cache[pos] == "" {
			continue
		}
		buf.WriteString(cache[pos])
		buf.WriteByte('\n')
	}
	return buf.String()
}

// V returns true if logging at verbosity v is enabled.
func V(v int) bool {
	return v <= *flagV
}

func Logf(v int, msg string, args ...interface{}) {
	mu.Lock()
	doLog := v <= *flagV
	if cache != nil && v <= 1 {
		timeStr := ""
		if prependTime {
			timeStr = time.Now().Format("2006/01/02 15:04:05 ")
		}
		cache[cachePos] = fmt.Sprintf(timeStr+msg, args...)
		cachePos++
		if cachePos == len(cache) {
			cachePos = 0
		}
	}
	mu.Unlock()

	if doLog {
		golog.Printf(msg, args...)
	}
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter is an io.Writer that forwards everything written to it
// to Logf at the corresponding verbosity level.
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
