// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eventlog

import (
	"testing"

	"github.com/chombourger/memtraq/internal/backtrace"
)

func TestEncodeDecodeMallocRoundTrip(t *testing.T) {
	f := &Frame{
		Kind:        KindMalloc,
		TimestampUS: 123456789,
		ThreadID:    42,
		Size:        16,
		Ptr:         0xdeadbeef,
		Resolved:    false,
		Backtrace:   []backtrace.Frame{{PC: 0x1000}, {PC: 0x2000}},
	}
	buf := Encode(f)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindMalloc || got.Size != 16 || got.Ptr != 0xdeadbeef || got.ThreadID != 42 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if len(got.Backtrace) != 2 || got.Backtrace[0].PC != 0x1000 || got.Backtrace[1].PC != 0x2000 {
		t.Fatalf("backtrace mismatch: %+v", got.Backtrace)
	}
}

func TestEncodeLengthPrefixMatchesFrameSize(t *testing.T) {
	f := &Frame{Kind: KindFree, Ptr: 7}
	buf := Encode(f)
	if len(buf) < 4 {
		t.Fatal("frame too short")
	}
	total := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	if int(total) != len(buf) {
		t.Fatalf("length prefix %d != actual frame length %d", total, len(buf))
	}
}

func TestEncodeTagRoundTrip(t *testing.T) {
	f := &Frame{
		Kind:      KindTag,
		TagName:   "phase-1",
		TagSerial: 9,
	}
	buf := Encode(f)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TagName != "phase-1" || got.TagSerial != 9 {
		t.Fatalf("tag round-trip mismatch: %+v", got)
	}
}

func TestEncodeCompressesLargeResolvedTail(t *testing.T) {
	frames := make([]backtrace.Frame, 50)
	for i := range frames {
		frames[i] = backtrace.Frame{Symbol: "github.com/chombourger/memtraq/internal/core.OpMalloc"}
	}
	f := &Frame{Kind: KindMalloc, Size: 8, Ptr: 1, Resolved: true, Backtrace: frames}
	buf := Encode(f)

	// The tail flag byte follows the length prefix, kind, timestamp,
	// thread id, size and ptr.
	if flag := buf[4+1+8+8+8+8]; flag != tailSnappy {
		t.Fatalf("expected the tail to be stored Snappy-compressed, flag=%d", flag)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Backtrace) != len(frames) {
		t.Fatalf("got %d frames want %d", len(got.Backtrace), len(frames))
	}
	for i, bf := range got.Backtrace {
		if bf.Symbol != frames[i].Symbol {
			t.Fatalf("frame %d symbol mismatch: %q", i, bf.Symbol)
		}
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	f := &Frame{Kind: KindFree, Ptr: 1}
	buf := Encode(f)
	buf = append(buf, 0, 0, 0) // corrupt the length prefix vs actual size
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error on length mismatch")
	}
}
