// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package realalloc resolves the real allocator symbols (malloc, calloc,
// realloc, free) from the next object in load order, by name, at first
// use -- the dlsym(RTLD_NEXT, ...) idiom design notes §9 calls out
// explicitly. It also turns internal/lmm bootstrap-heap offsets into
// genuine C pointers, which is the one place lmm's otherwise pure-Go
// byte-offset arithmetic has to cross into unsafe.Pointer: the host
// process expects a real address back from an interposed malloc, bootstrap
// heap or not.
package realalloc

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdlib.h>

static void *memtraq_resolve(const char *name) {
	return dlsym(RTLD_NEXT, name);
}

static void *memtraq_call_malloc(void *fn, size_t n) {
	return ((void *(*)(size_t))fn)(n);
}

static void *memtraq_call_calloc(void *fn, size_t nmemb, size_t n) {
	return ((void *(*)(size_t, size_t))fn)(nmemb, n);
}

static void *memtraq_call_realloc(void *fn, void *ptr, size_t n) {
	return ((void *(*)(void *, size_t))fn)(ptr, n);
}

static void memtraq_call_free(void *fn, void *ptr) {
	((void (*)(void *))fn)(ptr);
}
*/
import "C"

import (
	"unsafe"

	"github.com/chombourger/memtraq/internal/errs"
)

// Symbols holds the resolved real-allocator function pointers.
type Symbols struct {
	malloc  unsafe.Pointer
	calloc  unsafe.Pointer
	realloc unsafe.Pointer
	free    unsafe.Pointer
}

// Resolve looks up malloc, calloc, realloc and free by name in the next
// object in load order. Per spec §4.7/§7, any symbol resolving to null is
// fatal: Resolve returns a *errs.SymbolError naming the first one that
// failed, and initialization must not proceed.
func Resolve() (*Symbols, error) {
	s := &Symbols{}
	for _, pair := range []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"malloc", &s.malloc},
		{"calloc", &s.calloc},
		{"realloc", &s.realloc},
		{"free", &s.free},
	} {
		cn := C.CString(pair.name)
		*pair.dst = C.memtraq_resolve(cn)
		C.free(unsafe.Pointer(cn))
		if *pair.dst == nil {
			return nil, &errs.SymbolError{Symbol: pair.name}
		}
	}
	return s, nil
}

// Malloc invokes the real malloc(3).
func (s *Symbols) Malloc(size uintptr) unsafe.Pointer {
	return C.memtraq_call_malloc(s.malloc, C.size_t(size))
}

// Calloc invokes the real calloc(3). Overflow of nmemb*size is the real
// allocator's problem, not ours (spec §4.3): we do not pre-check it.
func (s *Symbols) Calloc(nmemb, size uintptr) unsafe.Pointer {
	return C.memtraq_call_calloc(s.calloc, C.size_t(nmemb), C.size_t(size))
}

// Realloc invokes the real realloc(3).
func (s *Symbols) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return C.memtraq_call_realloc(s.realloc, ptr, C.size_t(size))
}

// Free invokes the real free(3).
func (s *Symbols) Free(ptr unsafe.Pointer) {
	C.memtraq_call_free(s.free, ptr)
}

// PointerOf turns a bootstrap-heap payload offset, plus the heap's own
// backing slice, into the address a host caller can legitimately treat
// as a C pointer. This and OffsetWithin are the module's only conversions
// between bootstrap-heap offsets and addresses, kept here because
// realalloc is already the C-ABI boundary package.
func PointerOf(heapBytes []byte, offset int32) unsafe.Pointer {
	if offset < 0 || int(offset) >= len(heapBytes) {
		return nil
	}
	return unsafe.Pointer(&heapBytes[offset])
}

// OffsetWithin reports whether ptr lies within heapBytes's backing array
// and, if so, the corresponding offset.
func OffsetWithin(heapBytes []byte, ptr unsafe.Pointer) (int32, bool) {
	if len(heapBytes) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&heapBytes[0]))
	p := uintptr(ptr)
	if p < base || p >= base+uintptr(len(heapBytes)) {
		return 0, false
	}
	return int32(p - base), true
}
