// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/chombourger/memtraq/internal/eventlog"
	"github.com/chombourger/memtraq/internal/lmm"
	"github.com/chombourger/memtraq/internal/realalloc"
)

// fakeRealAllocator stands in for the real malloc/free/realloc behind the
// realAllocator seam, backed by ordinary Go memory instead of libc, so
// OpMalloc/OpFree/OpRealloc can be driven through their non-bootstrap path
// without crossing into cgo.
type fakeRealAllocator struct {
	mu     sync.Mutex
	blocks map[uintptr][]byte
}

func newFakeRealAllocator() *fakeRealAllocator {
	return &fakeRealAllocator{blocks: map[uintptr][]byte{}}
}

func (f *fakeRealAllocator) Malloc(size uintptr) unsafe.Pointer {
	buf := make([]byte, atLeastOne(size))
	f.mu.Lock()
	f.blocks[uintptr(unsafe.Pointer(&buf[0]))] = buf
	f.mu.Unlock()
	return unsafe.Pointer(&buf[0])
}

func (f *fakeRealAllocator) Free(ptr unsafe.Pointer) {
	f.mu.Lock()
	delete(f.blocks, uintptr(ptr))
	f.mu.Unlock()
}

func (f *fakeRealAllocator) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	f.mu.Lock()
	old := f.blocks[uintptr(ptr)]
	delete(f.blocks, uintptr(ptr))
	f.mu.Unlock()

	buf := make([]byte, atLeastOne(size))
	copy(buf, old)

	f.mu.Lock()
	f.blocks[uintptr(unsafe.Pointer(&buf[0]))] = buf
	f.mu.Unlock()
	return unsafe.Pointer(&buf[0])
}

// atLeastOne returns n, or 1 if n is 0, since a zero-length Go slice has
// no addressable first element and the fake only needs a unique pointer.
func atLeastOne(n uintptr) uintptr {
	if n == 0 {
		return 1
	}
	return n
}

// freshState builds a fully initialized state wired to a fake real
// allocator and a MemSink-backed logger, bypassing initOnce's cgo/real
// symbol resolution entirely so OpMalloc/OpFree/OpRealloc/Tag can be
// exercised end to end and their emitted frames inspected.
func freshState(enabled bool) (*state, *eventlog.MemSink) {
	sink := eventlog.NewMemSink()
	return &state{
		logMu:       newRecursiveMutex(),
		initialized: true,
		enabled:     enabled,
		real:        newFakeRealAllocator(),
		logger:      eventlog.NewMemSinkLogger(sink),
		heap:        lmm.New(lmm.DefaultSize),
	}, sink
}

// TestEndToEndMallocTagReallocFree drives scenario S1 (malloc/free are
// logged in order, with matching pointers) and S2 (a tag is recorded even
// while disabled, ahead of enable()) through the real, non-bootstrap path,
// plus an ordinary resize logged as a single REALLOC frame, asserting on
// the actual frames a logger receives rather than on core's internal
// bookkeeping alone.
func TestEndToEndMallocTagReallocFree(t *testing.T) {
	s, sink := freshState(false)

	s.tag("before-enable", 0)
	s.enabled = true

	ptr := s.opMalloc(64, 0)
	if ptr == nil {
		t.Fatal("expected a non-nil pointer from the real allocator path")
	}
	if _, ok := realalloc.OffsetWithin(s.heap.Bytes(), ptr); ok {
		t.Fatal("expected the real-allocator path, not the bootstrap heap")
	}

	grown := s.opRealloc(ptr, 128, 0)
	if grown == nil {
		t.Fatal("expected realloc to succeed")
	}

	s.opFree(grown, 0)

	frames, err := sink.Frames()
	if err != nil {
		t.Fatalf("decoding frames: %v", err)
	}

	var kinds []eventlog.Kind
	for _, f := range frames {
		kinds = append(kinds, f.Kind)
	}
	want := []eventlog.Kind{eventlog.KindTag, eventlog.KindMalloc, eventlog.KindRealloc, eventlog.KindFree}
	if len(kinds) != len(want) {
		t.Fatalf("got %d frames %v, want %d frames %v", len(kinds), kinds, len(want), want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("frame %d: got %s, want %s", i, kinds[i], want[i])
		}
	}

	if frames[0].TagName != "before-enable" {
		t.Fatalf("expected the tag placed before enable() to still be recorded, got %q", frames[0].TagName)
	}
	if frames[1].Size != 64 {
		t.Fatalf("expected MALLOC frame to record size 64, got %d", frames[1].Size)
	}
	if frames[2].OldPtr != uint64(uintptr(ptr)) || frames[2].Size != 128 {
		t.Fatalf("REALLOC frame mismatch: %+v", frames[2])
	}
	if frames[3].Ptr != frames[2].Ptr {
		t.Fatalf("expected FREE frame to reference the reallocated pointer, got %#x, want %#x", frames[3].Ptr, frames[2].Ptr)
	}
}

// TestEndToEndResizeOfBootstrapPointerIsDiagnosticOnly exercises scenario
// S5: resizing a pointer that was served out of the bootstrap heap is
// refused and recorded as a plain-text diagnostic line, never a REALLOC
// frame, through the real state/logger wiring rather than a stub.
func TestEndToEndResizeOfBootstrapPointerIsDiagnosticOnly(t *testing.T) {
	s, sink := freshState(true)

	off, ok := s.heap.Alloc(32)
	if !ok {
		t.Fatal("bootstrap alloc failed")
	}
	ptr := realalloc.PointerOf(s.heap.Bytes(), off)

	if got := s.opRealloc(ptr, 64, 0); got != nil {
		t.Fatalf("expected nil for an unsupported bootstrap resize, got %v", got)
	}

	got := string(sink.Bytes())
	if !strings.Contains(got, "resize from bootstrap heap unsupported") {
		t.Fatalf("expected a plain-text resize diagnostic, got %q", got)
	}
}
