// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tls provides the per-OS-thread nesting counter that
// internal/core uses to divert reentrant allocation requests to the
// bootstrap heap, plus the opaque thread identifier stamped into every
// event frame.
//
// The nesting counter is the module's one genuine TLS boundary, and per
// design notes §9 it must be a true per-OS-thread primitive with no
// construction ordering requirements -- it has to work before any Go
// init() or C global constructor has run, and a goroutine can migrate
// between OS threads, which a map keyed by goroutine state would get
// wrong. Neither requirement has a pure-Go answer, so the counter is
// cgo: a C _Thread_local variable, exactly the primitive the original
// design notes call out as the source implementation's own choice. No
// example in the retrieved pack uses cgo or unsafe; this package,
// internal/realalloc and cmd/memtraq-preload are the places that use cgo.
package tls

import "golang.org/x/sys/unix"

/*
static _Thread_local long memtraq_nesting = 0;

static long memtraq_nesting_enter(void) {
	return ++memtraq_nesting;
}

static long memtraq_nesting_leave(void) {
	return --memtraq_nesting;
}

static long memtraq_nesting_get(void) {
	return memtraq_nesting;
}
*/
import "C"

// Enter increments the calling OS thread's nesting level and returns the
// new value. Must be paired with exactly one Leave on every exit path.
func Enter() int {
	return int(C.memtraq_nesting_enter())
}

// Leave decrements the calling OS thread's nesting level and returns the
// new value.
func Leave() int {
	return int(C.memtraq_nesting_leave())
}

// Level returns the calling OS thread's current nesting level without
// modifying it.
func Level() int {
	return int(C.memtraq_nesting_get())
}

// ThreadID returns an opaque identifier for the calling OS thread,
// stamped into event frames (spec §3's "opaque thread identifier").
func ThreadID() uint64 {
	return uint64(unix.Gettid())
}
