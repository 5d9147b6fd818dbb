// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace is the module's sole diagnostic channel: a leveled,
// class-tagged debug print facility with a single process-wide mutex. It
// is read by every other internal package instead of log.Print or a
// third-party structured logger, matching the C original's trace.c.
package trace

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Recognized trace classes. Kept as a small fixed set, mirroring the C
// original's compile-time class table, rather than open-ended class
// registration.
const (
	Core      = "core"
	LMM       = "lmm"
	Hooks     = "hooks"
	Log       = "log"
	InitClass = "init"
)

var classes = [...]string{Core, LMM, Hooks, Log, InitClass}

var (
	mu       sync.Mutex
	levels   = map[string]int{}
	initDone bool
)

// Init reads MEMTRAQ_DEBUG and MEMTRAQ_TRACE_<CLASS> from the environment
// and populates the per-class level table. Safe to call more than once;
// only the first call has effect.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if initDone {
		return
	}
	initDone = true

	def := 0
	if v, ok := os.LookupEnv("MEMTRAQ_DEBUG"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			def = n
		} else {
			def = 1
		}
	}
	for _, c := range classes {
		levels[c] = def
	}
	for _, c := range classes {
		name := "MEMTRAQ_TRACE_" + upper(c)
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				levels[c] = n
			} else {
				levels[c] = 1
			}
		}
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// Enabled reports whether the given class is enabled at least at level.
func Enabled(class string, level int) bool {
	mu.Lock()
	defer mu.Unlock()
	return levels[class] >= level
}

// Printf emits a trace line for class at level, iff that class/level is
// currently enabled. Output goes to stderr; trace is a debug aid, never
// the event log itself (see internal/eventlog for that).
func Printf(class string, level int, format string, args ...interface{}) {
	mu.Lock()
	enabled := levels[class] >= level
	mu.Unlock()
	if !enabled {
		return
	}
	fmt.Fprintf(os.Stderr, "memtraq: [%s:%d] "+format+"\n", append([]interface{}{class, level}, args...)...)
}
