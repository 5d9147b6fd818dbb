// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tls

import "testing"

func TestEnterLeaveAreSymmetric(t *testing.T) {
	base := Level()
	if got := Enter(); got != base+1 {
		t.Fatalf("Enter: got %d, want %d", got, base+1)
	}
	if got := Enter(); got != base+2 {
		t.Fatalf("nested Enter: got %d, want %d", got, base+2)
	}
	if got := Leave(); got != base+1 {
		t.Fatalf("Leave: got %d, want %d", got, base+1)
	}
	if got := Leave(); got != base {
		t.Fatalf("Leave: got %d, want %d", got, base)
	}
}

func TestLevelDoesNotModifyState(t *testing.T) {
	Enter()
	defer Leave()
	a := Level()
	b := Level()
	if a != b {
		t.Fatalf("Level is not idempotent: %d != %d", a, b)
	}
}

func TestThreadIDNonZero(t *testing.T) {
	if ThreadID() == 0 {
		t.Fatal("expected a non-zero opaque thread identifier")
	}
}

func TestThreadIDStableWithinGoroutine(t *testing.T) {
	a := ThreadID()
	b := ThreadID()
	if a != b {
		t.Fatalf("thread id changed within the same goroutine: %d != %d", a, b)
	}
}
