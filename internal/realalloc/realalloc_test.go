// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package realalloc

import "testing"

func TestResolveFindsAllFourSymbols(t *testing.T) {
	s, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.malloc == nil || s.calloc == nil || s.realloc == nil || s.free == nil {
		t.Fatal("expected all four symbols to resolve to non-nil function pointers")
	}
}

func TestMallocFreeRoundTrip(t *testing.T) {
	s, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ptr := s.Malloc(64)
	if ptr == nil {
		t.Fatal("expected a non-nil pointer from the real allocator")
	}
	s.Free(ptr)
}

func TestReallocGrowsAllocation(t *testing.T) {
	s, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ptr := s.Malloc(16)
	if ptr == nil {
		t.Fatal("malloc failed")
	}
	grown := s.Realloc(ptr, 256)
	if grown == nil {
		t.Fatal("realloc failed")
	}
	s.Free(grown)
}

func TestPointerOfAndOffsetWithinRoundTrip(t *testing.T) {
	heap := make([]byte, 4096)
	ptr := PointerOf(heap, 128)
	if ptr == nil {
		t.Fatal("expected non-nil pointer")
	}
	off, ok := OffsetWithin(heap, ptr)
	if !ok || off != 128 {
		t.Fatalf("got (%d, %v), want (128, true)", off, ok)
	}
}

func TestOffsetWithinRejectsForeignPointer(t *testing.T) {
	heap := make([]byte, 16)
	other := make([]byte, 16)
	if _, ok := OffsetWithin(heap, PointerOf(other, 0)); ok {
		t.Fatal("expected a pointer outside heap to be rejected")
	}
}

func TestPointerOfRejectsOutOfRangeOffset(t *testing.T) {
	heap := make([]byte, 16)
	if PointerOf(heap, 16) != nil {
		t.Fatal("expected nil for an offset at the end of the backing array")
	}
	if PointerOf(heap, -1) != nil {
		t.Fatal("expected nil for a negative offset")
	}
}
