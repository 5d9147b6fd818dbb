// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flist implements the intrusive, index-addressed doubly linked
// list used by the bootstrap heap's free list. List members are not Go
// pointers: they are caller-defined indices (in practice, byte offsets
// into a backing array) whose link fields are read and written through
// the Links interface, so the same list machinery works whether the
// backing storage is a slice of structs or raw bytes.
package flist

// Links gives List read/write access to the next/prev fields of the node
// at index i, however the caller chooses to store them.
type Links interface {
	Next(i int32) int32
	SetNext(i int32, v int32)
	Prev(i int32) int32
	SetPrev(i int32, v int32)
}

// List is a sentinel-headed doubly linked list. Index Head is never
// removed and, for an empty list, is linked to itself:
//
//	Next(Head) == Head && Prev(Head) == Head
//
// For any non-sentinel member x currently in the list:
//
//	Next(Prev(x)) == x
//	Prev(Next(x)) == x
type List struct {
	Head  int32
	links Links
}

// New returns a List rooted at the sentinel index head, using links to
// access next/prev fields. The sentinel MUST already be self-linked
// (call InitSentinel if it is not).
func New(head int32, links Links) *List {
	return &List{Head: head, links: links}
}

// InitSentinel self-links the sentinel node. Call once before any
// Insert/Remove if the backing storage does not already have the
// sentinel pointing at itself (e.g. it was just zero-filled and zero is
// not the sentinel's own index).
func (l *List) InitSentinel() {
	l.links.SetNext(l.Head, l.Head)
	l.links.SetPrev(l.Head, l.Head)
}

// Empty reports whether the list holds no members other than the
// sentinel.
func (l *List) Empty() bool {
	return l.links.Next(l.Head) == l.Head
}

// InsertTail appends the node at index i to the end of the list (just
// before the sentinel). i MUST NOT already be linked into any list.
func (l *List) InsertTail(i int32) {
	last := l.links.Prev(l.Head)
	l.links.SetPrev(i, last)
	l.links.SetNext(i, l.Head)
	l.links.SetNext(last, i)
	l.links.SetPrev(l.Head, i)
}

// Remove unlinks the node at index i, which MUST NOT be the sentinel and
// MUST currently be a member of the list.
func (l *List) Remove(i int32) {
	if i == l.Head {
		panic("flist: cannot remove the sentinel")
	}
	next, prev := l.links.Next(i), l.links.Prev(i)
	l.links.SetNext(prev, next)
	l.links.SetPrev(next, prev)
	l.links.SetNext(i, 0)
	l.links.SetPrev(i, 0)
}

// ForEach walks the list from head to tail, calling fn with each member's
// index (the sentinel is never passed to fn). The next index to visit is
// read after fn returns, so fn may unlink members other than i (lmm's
// allocation walk does exactly this to fold coalesced neighbors out of
// the list mid-walk); fn must not unlink i itself.
func (l *List) ForEach(fn func(i int32)) {
	for i := l.links.Next(l.Head); i != l.Head; i = l.links.Next(i) {
		fn(i)
	}
}
