// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errs collects the typed error values the rest of the module
// returns, in place of bare fmt.Errorf strings, so callers can distinguish
// failure classes with errors.As.
package errs

import "fmt"

// InitError reports that one-shot initialization could not complete
// because a real-allocator symbol failed to resolve. A log file that
// cannot be opened does not produce one: the logger falls back to stderr.
type InitError struct {
	Reason string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("memtraq: initialization failed: %s", e.Reason)
}

// ResizeError reports an unsupported resize request, namely resizing a
// pointer that was originally served out of the bootstrap heap.
type ResizeError struct {
	Ptr uintptr
}

func (e *ResizeError) Error() string {
	return fmt.Sprintf("memtraq: resize from bootstrap heap unsupported (ptr=%#x)", e.Ptr)
}

// SymbolError reports that a named real-allocator symbol failed to
// resolve against the next object in load order.
type SymbolError struct {
	Symbol string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("memtraq: could not resolve real allocator symbol %q", e.Symbol)
}

// CorruptionError reports an invalid marker encountered while walking the
// bootstrap heap's free list. It is informational: the caller logs it via
// trace and continues the walk, it never aborts an operation.
type CorruptionError struct {
	Offset int
	Marker uint32
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("memtraq: corrupt lmm block at offset %d (marker=%#08x)", e.Offset, e.Marker)
}
