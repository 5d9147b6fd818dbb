// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lmm is the bootstrap heap: a tiny fixed-size first-fit allocator
// carved out of a byte array that, in the running library, lives in
// static data so it is usable before any global constructor has run and
// so it never reenters the real allocator. It exists only to break the
// recursion between the instrumentation and the allocator it interposes;
// it is not a general-purpose allocator and does not support Realloc.
//
// Every exported method here assumes the caller already holds whatever
// lock serializes access (internal/core's log lock, per spec) -- Heap
// itself does no internal locking.
package lmm

import (
	"encoding/binary"

	"github.com/cznic/mathutil"

	"github.com/chombourger/memtraq/internal/errs"
	"github.com/chombourger/memtraq/internal/flist"
	"github.com/chombourger/memtraq/internal/trace"
)

// Block markers. Chosen to be visually distinct from each other and from
// stray zero/garbage bytes in a memory dump.
const (
	markerFree  uint32 = 0xF4EEB10C
	markerInUse uint32 = 0x15EB10C0
)

// headerSize is the fixed byte width of a block header: next(4) + prev(4)
// + size(4) + marker(4) + tag(4).
const headerSize = 20

// align is the granularity requested sizes are rounded up to. Payload
// offsets are multiples of 4, not of align, since headerSize is 20.
const align = 8

// DefaultSize is the conventional bootstrap heap size (§3 of the spec):
// 512 KiB resident in the library's static data.
const DefaultSize = 512 * 1024

// Heap is a first-fit allocator over a fixed byte array. The zero Heap is
// not usable; construct one with New.
type Heap struct {
	buf  []byte
	free *flist.List
}

// New returns a Heap backed by a freshly allocated byte array of size
// bytes. size must be large enough to hold the sentinel header plus at
// least one real block header (size > 2*headerSize).
func New(size int) *Heap {
	if size <= 2*headerSize {
		panic("lmm: heap size too small")
	}
	h := &Heap{buf: make([]byte, size)}
	h.free = flist.New(0, h)
	h.free.InitSentinel()

	first := int32(headerSize)
	payload := int32(size) - 2*headerSize
	h.setSize(first, payload)
	h.setMarker(first, markerFree)
	h.free.InsertTail(first)
	return h
}

// Bytes exposes the raw backing array so the C-ABI boundary
// (internal/realalloc) can turn a payload offset into a genuine memory
// address via unsafe.Pointer(&buf[off]). lmm itself never needs unsafe.
func (h *Heap) Bytes() []byte { return h.buf }

// Size returns the total size in bytes of the backing array, including
// the sentinel and all block headers.
func (h *Heap) Size() int { return len(h.buf) }

// Valid reports whether off refers to a payload offset that lies within
// this heap's backing array.
func (h *Heap) Valid(off int32) bool {
	return off >= headerSize+headerSize && int(off) <= len(h.buf)
}

// Alloc returns the payload offset of a block of at least n bytes, and
// true, or (0, false) if no free block is large enough after coalescing.
// The requested size is rounded up to a multiple of align.
func (h *Heap) Alloc(n int) (int32, bool) {
	n = roundUp(mathutil.Max(n, 0), align)
	need := int32(n)

	var found int32 = -1
	h.free.ForEach(func(hoff int32) {
		if found != -1 {
			return
		}
		h.coalesce(hoff)
		if h.size(hoff) >= need {
			found = hoff
		}
	})
	if found == -1 {
		return 0, false
	}

	h.free.Remove(found)
	total := h.size(found)
	remainder := total - need
	if remainder >= headerSize {
		split := found + headerSize + need
		h.setSize(split, remainder-headerSize)
		h.setMarker(split, markerFree)
		h.free.InsertTail(split)
		h.setSize(found, need)
	}
	// else: remainder too small to host a header; the whole chunk,
	// including the few extra bytes, is handed to the caller.
	h.setMarker(found, markerInUse)
	return found + headerSize, true
}

// Free marks the block preceding the payload at off as FREE and appends
// it to the free list. Coalescing with neighbors is deferred to the next
// Alloc's walk, not performed here.
func (h *Heap) Free(off int32) {
	hoff := off - headerSize
	h.setMarker(hoff, markerFree)
	h.free.InsertTail(hoff)
}

// coalesce merges the block at hoff with as many immediately following
// FREE neighbors as exist, folding each neighbor's header and payload
// into hoff's size. An INUSE neighbor, or one past the end of the
// backing array, stops the merge. A neighbor whose marker is neither
// FREE nor INUSE indicates header corruption; it is left alone and
// traced rather than merged blindly.
func (h *Heap) coalesce(hoff int32) {
	for {
		nb := hoff + headerSize + h.size(hoff)
		if nb+headerSize > int32(len(h.buf)) {
			return
		}
		m := h.marker(nb)
		if m == markerInUse {
			return
		}
		if m != markerFree {
			trace.Printf(trace.LMM, 1, "%s", (&errs.CorruptionError{Offset: int(nb), Marker: m}).Error())
			return
		}
		h.free.Remove(nb)
		h.setSize(hoff, h.size(hoff)+headerSize+h.size(nb))
	}
}

func roundUp(n, a int) int {
	if a <= 0 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// --- field accessors (header layout: next,prev,size,marker,tag) ---

func (h *Heap) size(hoff int32) int32 {
	return int32(binary.LittleEndian.Uint32(h.buf[hoff+8:]))
}

func (h *Heap) setSize(hoff int32, v int32) {
	binary.LittleEndian.PutUint32(h.buf[hoff+8:], uint32(v))
}

func (h *Heap) marker(hoff int32) uint32 {
	return binary.LittleEndian.Uint32(h.buf[hoff+12:])
}

func (h *Heap) setMarker(hoff int32, v uint32) {
	binary.LittleEndian.PutUint32(h.buf[hoff+12:], v)
}

// Tag is a debug-only field (not interpreted by allocation logic) that
// identifies which subsystem owns a bootstrap block, carried over from
// the original implementation's header to aid reading memory dumps.
func (h *Heap) Tag(off int32) uint32 {
	return binary.LittleEndian.Uint32(h.buf[off-headerSize+16:])
}

// SetTag stores the debug tag for the block preceding payload offset off.
func (h *Heap) SetTag(off int32, tag uint32) {
	binary.LittleEndian.PutUint32(h.buf[off-headerSize+16:], tag)
}

// --- flist.Links ---

func (h *Heap) Next(hoff int32) int32 {
	return int32(binary.LittleEndian.Uint32(h.buf[hoff:]))
}

func (h *Heap) SetNext(hoff int32, v int32) {
	binary.LittleEndian.PutUint32(h.buf[hoff:], uint32(v))
}

func (h *Heap) Prev(hoff int32) int32 {
	return int32(binary.LittleEndian.Uint32(h.buf[hoff+4:]))
}

func (h *Heap) SetPrev(hoff int32, v int32) {
	binary.LittleEndian.PutUint32(h.buf[hoff+4:], uint32(v))
}
