// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "sync"

// recursiveMutex is the log lock: a mutex that the same OS thread may
// lock more than once (spec §5 calls for exactly this, so that one-shot
// initialization invoked from inside the core may call the logger, which
// reenters the lock). The standard library's sync.Mutex is deliberately
// not reentrant, so this is built directly on a sync.Cond -- there is no
// recursive-mutex type in the example pack or a natural third-party
// substitute; this is the one place internal/core reaches for
// synchronization primitives below sync.Mutex itself.
type recursiveMutex struct {
	cond  *sync.Cond
	owner uint64
	have  bool
	depth int
}

func newRecursiveMutex() *recursiveMutex {
	return &recursiveMutex{cond: sync.NewCond(&sync.Mutex{})}
}

// Lock acquires the lock for OS thread tid, blocking while some other
// thread holds it. Reentrant for the same tid.
func (m *recursiveMutex) Lock(tid uint64) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()
	for m.have && m.owner != tid {
		m.cond.Wait()
	}
	m.owner = tid
	m.have = true
	m.depth++
}

// Unlock releases one level of tid's hold on the lock. Panics if tid does
// not currently hold it -- an unbalanced Unlock is a programming error in
// internal/core, not a runtime condition to recover from.
func (m *recursiveMutex) Unlock(tid uint64) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()
	if !m.have || m.owner != tid {
		panic("core: unlock of log lock by non-owner thread")
	}
	m.depth--
	if m.depth == 0 {
		m.have = false
		m.owner = 0
		m.cond.Broadcast()
	}
}
