// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eventlog

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cznic/mathutil"
)

const (
	pgBits = 12
	pgSize = 1 << pgBits
	pgMask = pgSize - 1
)

var zeroPage [pgSize]byte

// MemSink is a memory-backed append-only log sink, standing in for a real
// log file in tests that need to assert on frame-by-frame output without
// touching the filesystem. It grows in fixed pages rather than one
// contiguous slice so that repeated appends from a long test run don't
// force a full-buffer copy on every write, the same page-map trade-off
// lldb's MemFiler makes for its in-memory Filer implementation.
type MemSink struct {
	pages map[int64]*[pgSize]byte
	size  int64
}

// NewMemSink returns an empty sink.
func NewMemSink() *MemSink {
	return &MemSink{pages: map[int64]*[pgSize]byte{}}
}

// Write appends b at the current end of the sink. Implements io.Writer so
// a MemSink can be handed directly to a Logger's file slot in tests.
func (m *MemSink) Write(b []byte) (int, error) {
	off := m.size
	n := len(b)
	pgI := off >> pgBits
	pgO := int(off & pgMask)
	rem := n
	for rem != 0 {
		pg := m.pages[pgI]
		if pg == nil {
			pg = new([pgSize]byte)
			m.pages[pgI] = pg
		}
		nc := copy(pg[pgO:], b)
		pgI++
		pgO = 0
		rem -= nc
		b = b[nc:]
	}
	m.size += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt over the appended bytes.
func (m *MemSink) ReadAt(b []byte, off int64) (int, error) {
	avail := m.size - off
	if avail <= 0 {
		return 0, io.EOF
	}
	pgI := off >> pgBits
	pgO := int(off & pgMask)
	rem := len(b)
	var n int
	var err error
	if int64(rem) > avail {
		rem = int(avail)
		err = io.EOF
	}
	for rem != 0 {
		pg := m.pages[pgI]
		if pg == nil {
			pg = &zeroPage
		}
		nc := copy(b[n:n+mathutil.Min(rem, pgSize-pgO)], pg[pgO:])
		pgI++
		pgO = 0
		rem -= nc
		n += nc
	}
	return n, err
}

// Bytes returns a contiguous copy of everything written so far.
func (m *MemSink) Bytes() []byte {
	out := make([]byte, m.size)
	m.ReadAt(out, 0)
	return out
}

// Frames decodes every length-prefixed frame written to the sink in
// order. It does not attempt to interpret a plain-text diagnostic line
// (WriteDiagnostic's output) as a frame; callers that mix the two should
// use Bytes and split manually.
func (m *MemSink) Frames() ([]*Frame, error) {
	buf := m.Bytes()
	var out []*Frame
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("eventlog: trailing %d bytes short of a length prefix", len(buf))
		}
		total := binary.LittleEndian.Uint32(buf[0:4])
		if int(total) > len(buf) {
			return nil, fmt.Errorf("eventlog: frame claims %d bytes, only %d remain", total, len(buf))
		}
		f, err := Decode(buf[:total])
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		buf = buf[total:]
	}
	return out, nil
}

var _ io.Writer = (*MemSink)(nil)
var _ io.ReaderAt = (*MemSink)(nil)
