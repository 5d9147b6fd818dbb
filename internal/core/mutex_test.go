// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"runtime"
	"sync"
	"testing"
)

// TestRecursiveMutexReentrantForSameThread confirms the same tid may lock
// more than once and that the lock is only released after a matching
// number of Unlocks.
func TestRecursiveMutexReentrantForSameThread(t *testing.T) {
	m := newRecursiveMutex()
	m.Lock(1)
	m.Lock(1)
	m.Unlock(1)
	if !m.have {
		t.Fatal("expected the lock to still be held after only one of two Unlocks")
	}
	m.Unlock(1)
	if m.have {
		t.Fatal("expected the lock to be released after the matching Unlock")
	}
}

// TestRecursiveMutexUnlockByNonOwnerPanics exercises the documented
// programming-error path: a tid that never locked the mutex must not be
// able to unlock it out from under the real owner.
func TestRecursiveMutexUnlockByNonOwnerPanics(t *testing.T) {
	m := newRecursiveMutex()
	m.Lock(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Unlock by a non-owner tid to panic")
		}
	}()
	m.Unlock(2)
}

// TestRecursiveMutexBlocksOtherThreadUntilReentrantHolderFullyUnlocks pins
// two goroutines to distinct OS threads with distinct tids -- the same
// shape internal/core uses the lock under (one tid per real OS thread).
// The holder reenters the lock twice before releasing it; a different tid
// attempting to lock concurrently must block for the lock's entire
// reentrant hold and only proceed once the holder has fully unwound.
func TestRecursiveMutexBlocksOtherThreadUntilReentrantHolderFullyUnlocks(t *testing.T) {
	m := newRecursiveMutex()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	holderReady := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		const tid = uint64(1)
		m.Lock(tid)
		m.Lock(tid) // reentrant: same tid, must not block on itself
		record("holder-locked-twice")
		close(holderReady)
		<-release
		m.Unlock(tid)
		record("holder-unlocked-once")
		m.Unlock(tid)
	}()

	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		const tid = uint64(2)
		<-holderReady
		close(release)
		m.Lock(tid) // must block until the holder's depth reaches 0
		record("waiter-acquired")
		m.Unlock(tid)
	}()

	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("expected 3 recorded events, got %v", order)
	}
	if order[0] != "holder-locked-twice" || order[1] != "holder-unlocked-once" || order[2] != "waiter-acquired" {
		t.Fatalf("expected the waiter to acquire only after both of the holder's nested locks were released, got %v", order)
	}
}
