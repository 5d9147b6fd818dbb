// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"unsafe"

	"github.com/chombourger/memtraq/internal/errs"
	"github.com/chombourger/memtraq/internal/eventlog"
	"github.com/chombourger/memtraq/internal/realalloc"
	"github.com/chombourger/memtraq/internal/tls"
	"github.com/chombourger/memtraq/internal/trace"
)

// giveUpOnInit traces the wrapped initialization failure and is called at
// every op's abandon-on-init-failure point, so a caller left with a null
// result also leaves a record of why.
func giveUpOnInit(err error) {
	trace.Printf(trace.Core, 1, "%s", (&errs.InitError{Reason: err.Error()}).Error())
}

// OpMalloc implements spec §4.4 for allocation. skip is the number of
// innermost frames (the hooks entry point) to drop from any captured
// backtrace.
func OpMalloc(size uintptr, skip int) unsafe.Pointer {
	return global.opMalloc(size, skip+1)
}

func (s *state) opMalloc(size uintptr, skip int) unsafe.Pointer {
	tid := tls.ThreadID()
	s.logMu.Lock(tid)
	defer s.logMu.Unlock(tid)

	level := tls.Enter()
	defer tls.Leave()

	if level > 1 {
		// Already mid-instrumentation on this thread: the real
		// allocator might call back into arbitrary library code that
		// allocates again. Serve from the bootstrap heap instead.
		off, ok := s.heap.Alloc(int(size))
		if !ok {
			return nil
		}
		return realalloc.PointerOf(s.heap.Bytes(), off)
	}

	if !s.initialized {
		if err := s.initOnce(); err != nil {
			giveUpOnInit(err)
			return nil
		}
	}

	ptr := s.real.Malloc(size)
	s.emitMalloc(size, ptr, skip+1)
	return ptr
}

// OpFree implements spec §4.4 for deallocation.
func OpFree(ptr unsafe.Pointer, skip int) {
	if ptr == nil {
		return
	}
	global.opFree(ptr, skip+1)
}

func (s *state) opFree(ptr unsafe.Pointer, skip int) {
	tid := tls.ThreadID()
	s.logMu.Lock(tid)
	defer s.logMu.Unlock(tid)

	if off, ok := realalloc.OffsetWithin(s.heap.Bytes(), ptr); ok {
		s.heap.Free(off)
		return
	}

	tls.Enter()
	defer tls.Leave()

	if !s.initialized {
		if err := s.initOnce(); err != nil {
			giveUpOnInit(err)
			return
		}
	}

	s.real.Free(ptr)
	s.emitFree(ptr, skip+1)
}

// OpRealloc implements spec §4.4 for resize, excluding the null-pointer
// and zero-size forwarding rules, which are the interposition layer's
// job (spec §4.3) before OpRealloc is ever called.
func OpRealloc(ptr unsafe.Pointer, size uintptr, skip int) unsafe.Pointer {
	return global.opRealloc(ptr, size, skip+1)
}

func (s *state) opRealloc(ptr unsafe.Pointer, size uintptr, skip int) unsafe.Pointer {
	tid := tls.ThreadID()
	s.logMu.Lock(tid)
	defer s.logMu.Unlock(tid)

	if _, ok := realalloc.OffsetWithin(s.heap.Bytes(), ptr); ok {
		s.resizeDiagnostic(ptr)
		return nil
	}

	level := tls.Enter()
	defer tls.Leave()

	if level > 1 {
		off, ok := s.heap.Alloc(int(size))
		if !ok {
			return nil
		}
		return realalloc.PointerOf(s.heap.Bytes(), off)
	}

	if !s.initialized {
		if err := s.initOnce(); err != nil {
			giveUpOnInit(err)
			return nil
		}
	}

	newPtr := s.real.Realloc(ptr, size)
	s.emitRealloc(ptr, size, newPtr, skip+1)
	return newPtr
}

// Enable turns logging on (spec §4.8).
func Enable() {
	tid := tls.ThreadID()
	global.logMu.Lock(tid)
	defer global.logMu.Unlock(tid)
	global.enabled = true
}

// Disable turns logging off and flushes the log file (spec §4.8).
func Disable() {
	tid := tls.ThreadID()
	global.logMu.Lock(tid)
	defer global.logMu.Unlock(tid)
	global.enabled = false
	if global.logger != nil {
		_ = global.logger.Flush()
	}
}

// Tag emits a TAG event carrying name, a monotonically increasing serial,
// and the current backtrace. It participates in the nesting/recursion
// discipline exactly like an allocation (spec §4.8).
func Tag(name string, skip int) {
	global.tag(name, skip+1)
}

func (s *state) tag(name string, skip int) {
	tid := tls.ThreadID()
	s.logMu.Lock(tid)
	defer s.logMu.Unlock(tid)

	level := tls.Enter()
	defer tls.Leave()
	if level > 1 {
		return
	}

	if !s.initialized {
		if err := s.initOnce(); err != nil {
			giveUpOnInit(err)
			return
		}
	}

	// Unlike allocation events, a tag is a user-placed waypoint and is
	// always recorded, independent of the enabled/start_threshold gate
	// (spec §8 scenario S2: a tag placed while disabled still appears
	// in the log, ahead of the enable() call).
	serial := s.nextTagSerial()
	bt, resolved := s.capture(skip + 1)
	s.writeFrame(&eventlog.Frame{
		Kind:        eventlog.KindTag,
		TimestampUS: nowMicros(),
		ThreadID:    tid,
		TagName:     name,
		TagSerial:   uint64(serial),
		Resolved:    resolved,
		Backtrace:   bt,
	})
}

func (s *state) nextTagSerial() int64 {
	s.tagSerial++
	return s.tagSerial
}
