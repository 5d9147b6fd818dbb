// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backtrace captures the return-address chain at an allocation
// site and optionally symbolizes it. Symbolization itself allocates (the
// runtime's symbol table walk), which is exactly why internal/core routes
// any allocation that happens while a backtrace is being captured to the
// bootstrap heap rather than the real allocator.
package backtrace

import (
	"runtime"
	"sync"

	"github.com/cznic/sortutil"
)

// MaxFrames is the default cap on captured return addresses (spec §4.4
// step 8).
const MaxFrames = 100

// Capture returns up to max raw return addresses, dropping skip innermost
// frames (the interposer and the core routine that called Capture).
func Capture(skip, max int) []uintptr {
	if max <= 0 || max > MaxFrames {
		max = MaxFrames
	}
	pcs := make([]uintptr, max)
	// +2: this function's own frame and runtime.Callers' frame.
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

// Frame is one resolved (or unresolved) entry of a captured backtrace.
type Frame struct {
	PC     uintptr
	Symbol string // empty if not resolved
}

// Resolve turns raw addresses into Frames. If resolve is false, every
// Frame carries an empty Symbol and the caller is expected to emit the
// raw pointer bytes instead.
func Resolve(pcs []uintptr, resolve bool, cache *Cache) []Frame {
	frames := make([]Frame, len(pcs))
	for i, pc := range pcs {
		frames[i] = Frame{PC: pc}
		if !resolve {
			continue
		}
		if sym, ok := cache.lookup(pc); ok {
			frames[i].Symbol = sym
			continue
		}
		sym, low, high := symbolize(pc)
		if sym != "" {
			cache.insert(low, high, sym)
			frames[i].Symbol = sym
		}
	}
	return frames
}

// symbolize resolves a single program counter to a function name via
// runtime.FuncForPC, the direct analogue of the original's platform
// symbol lookup. runtime.Func exposes the function's entry address but
// not its end, so the returned range is [entry, entry+1): it covers the
// entry address only, not the whole function. There is no third-party
// symbolization library in the example pack or its ecosystem; this is an
// irreducible runtime-package concern.
func symbolize(pc uintptr) (symbol string, low, high uintptr) {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "", 0, 0
	}
	return fn.Name(), uintptr(fn.Entry()), uintptr(fn.Entry()) + 1
}

// Cache is a sorted-by-address cache of already-resolved program-counter
// ranges, so a PC that falls inside a cached range is not re-walked
// through the runtime's symbol table. Because symbolize records only a
// function's entry address, a lookup hits only for a PC equal to a cached
// entry address; other PCs are resolved again. Lookups binary-search a
// slice of range lower bounds via github.com/cznic/sortutil, mirroring
// the teacher ecosystem's preference for sortutil-backed ordered search
// over a linear scan or an unordered map keyed by exact PC.
type Cache struct {
	mu    sync.Mutex
	lows  []int64 // kept sorted ascending, parallel to entries
	highs []int64
	syms  []string
}

// NewCache returns an empty resolution cache.
func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) lookup(pc uintptr) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lows) == 0 {
		return "", false
	}
	v := int64(pc)
	i := sortutil.SearchInt64s(c.lows, v)
	if i == len(c.lows) || c.lows[i] > v {
		i--
	}
	if i >= 0 && v >= c.lows[i] && v < c.highs[i] {
		return c.syms[i], true
	}
	return "", false
}

func (c *Cache) insert(low, high uintptr, sym string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := int64(low)
	i := sortutil.SearchInt64s(c.lows, v)
	c.lows = append(c.lows, 0)
	copy(c.lows[i+1:], c.lows[i:])
	c.lows[i] = v

	c.highs = append(c.highs, 0)
	copy(c.highs[i+1:], c.highs[i:])
	c.highs[i] = int64(high)

	c.syms = append(c.syms, "")
	copy(c.syms[i+1:], c.syms[i:])
	c.syms[i] = sym
}
