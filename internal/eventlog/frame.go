// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eventlog implements the binary event-frame format (spec §3) and
// its delivery to a log file and/or a UDP socket (spec §4.6). A frame is a
// length-prefixed record: total frame size (4 bytes, filled last), kind,
// microsecond timestamp, thread id, kind-specific payload, and a variable
// tail carrying the tag name (TAG frames only) and the captured/resolved
// backtrace.
//
// Frame layout is length-prefix-then-payload, with no trailing padding,
// after the shape of the teacher's write-ahead-log packets (lldb's ACIDFiler0.writePacket),
// adapted here so the length prefix is the frame's own offset 0 rather
// than a preceding field, per spec §4.6 ("writers lay out the frame
// starting at offset 4 ... and write it to offset 0").
package eventlog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/chombourger/memtraq/internal/backtrace"
)

// Kind tags an event frame.
type Kind byte

// Recognized event kinds (spec §3).
const (
	KindInit Kind = iota + 1
	KindMalloc
	KindFree
	KindRealloc
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "INIT"
	case KindMalloc:
		return "MALLOC"
	case KindFree:
		return "FREE"
	case KindRealloc:
		return "REALLOC"
	case KindTag:
		return "TAG"
	default:
		return fmt.Sprintf("KIND(%d)", byte(k))
	}
}

// compressThreshold is the variable-tail size at or above which Snappy
// compression is attempted, mirroring the teacher's block-compression
// rule in lldb/falloc.go: only the compressed form is kept, and only if
// it is actually smaller.
const compressThreshold = 128

// tailFlag values, written as a single byte ahead of the variable tail.
const (
	tailRaw    byte = 0
	tailSnappy byte = 1
)

// Frame is the decoded representation of one event. Not every field is
// meaningful for every Kind; see the comments on each.
type Frame struct {
	Kind        Kind
	TimestampUS uint64
	ThreadID    uint64

	Enabled bool // KindInit

	Size   uint64 // KindMalloc, KindRealloc (new size)
	Ptr    uint64 // KindMalloc, KindFree, KindRealloc (new ptr)
	OldPtr uint64 // KindRealloc

	TagName   string // KindTag
	TagSerial uint64 // KindTag

	Resolved  bool                // whether Backtrace carries symbols or raw PCs
	Backtrace []backtrace.Frame
}

// Encode serializes f into a single frame, including the 4-byte length
// prefix, compressing the variable tail (tag name + backtrace symbols)
// when it is large enough to be worth it and doing so actually shrinks
// it.
func Encode(f *Frame) []byte {
	var body bytes.Buffer
	body.WriteByte(byte(f.Kind))
	writeU64(&body, f.TimestampUS)
	writeU64(&body, f.ThreadID)

	switch f.Kind {
	case KindInit:
		if f.Enabled {
			body.WriteByte(1)
		} else {
			body.WriteByte(0)
		}
	case KindMalloc:
		writeU64(&body, f.Size)
		writeU64(&body, f.Ptr)
	case KindFree:
		writeU64(&body, f.Ptr)
	case KindRealloc:
		writeU64(&body, f.OldPtr)
		writeU64(&body, f.Size)
		writeU64(&body, f.Ptr)
	case KindTag:
		writeU64(&body, f.TagSerial)
	}

	var tail bytes.Buffer
	if f.Kind == KindTag {
		writeString(&tail, f.TagName)
	}
	tail.WriteByte(boolByte(f.Resolved))
	writeU16(&tail, uint16(len(f.Backtrace)))
	for _, bf := range f.Backtrace {
		if f.Resolved {
			writeString(&tail, bf.Symbol)
		} else {
			writeU64(&tail, uint64(bf.PC))
		}
	}

	tailBytes := tail.Bytes()
	flag := tailRaw
	if len(tailBytes) >= compressThreshold {
		compressed := snappy.Encode(nil, tailBytes)
		if len(compressed) < len(tailBytes) {
			tailBytes = compressed
			flag = tailSnappy
		}
	}
	body.WriteByte(flag)
	writeU32(&body, uint32(len(tailBytes)))
	body.Write(tailBytes)

	frame := make([]byte, 4+body.Len())
	copy(frame[4:], body.Bytes())
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(frame)))
	return frame
}

// Decode parses a single frame previously produced by Encode, including
// its 4-byte length prefix (buf must hold exactly one frame; callers
// reading a stream use the prefix to delimit frames first).
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("eventlog: short frame (%d bytes)", len(buf))
	}
	total := binary.LittleEndian.Uint32(buf[0:4])
	if int(total) != len(buf) {
		return nil, fmt.Errorf("eventlog: frame length mismatch: header says %d, got %d", total, len(buf))
	}
	r := bytes.NewReader(buf[4:])

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f := &Frame{Kind: Kind(kindByte)}
	if f.TimestampUS, err = readU64(r); err != nil {
		return nil, err
	}
	if f.ThreadID, err = readU64(r); err != nil {
		return nil, err
	}

	switch f.Kind {
	case KindInit:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		f.Enabled = b != 0
	case KindMalloc:
		if f.Size, err = readU64(r); err != nil {
			return nil, err
		}
		if f.Ptr, err = readU64(r); err != nil {
			return nil, err
		}
	case KindFree:
		if f.Ptr, err = readU64(r); err != nil {
			return nil, err
		}
	case KindRealloc:
		if f.OldPtr, err = readU64(r); err != nil {
			return nil, err
		}
		if f.Size, err = readU64(r); err != nil {
			return nil, err
		}
		if f.Ptr, err = readU64(r); err != nil {
			return nil, err
		}
	case KindTag:
		if f.TagSerial, err = readU64(r); err != nil {
			return nil, err
		}
	}

	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	tailLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	tailBytes := make([]byte, tailLen)
	if _, err := r.Read(tailBytes); err != nil {
		return nil, err
	}
	if flag == tailSnappy {
		decoded, err := snappy.Decode(nil, tailBytes)
		if err != nil {
			return nil, fmt.Errorf("eventlog: snappy decode: %w", err)
		}
		tailBytes = decoded
	}

	tr := bytes.NewReader(tailBytes)
	if f.Kind == KindTag {
		if f.TagName, err = readString(tr); err != nil {
			return nil, err
		}
	}
	resolvedByte, err := tr.ReadByte()
	if err != nil {
		return nil, err
	}
	f.Resolved = resolvedByte != 0
	n, err := readU16(tr)
	if err != nil {
		return nil, err
	}
	f.Backtrace = make([]backtrace.Frame, n)
	for i := range f.Backtrace {
		if f.Resolved {
			sym, err := readString(tr)
			if err != nil {
				return nil, err
			}
			f.Backtrace[i] = backtrace.Frame{Symbol: sym}
		} else {
			pc, err := readU64(tr)
			if err != nil {
				return nil, err
			}
			f.Backtrace[i] = backtrace.Frame{PC: uintptr(pc)}
		}
	}
	return f, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeU16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeString(w *bytes.Buffer, s string) {
	writeU16(w, uint16(len(s)))
	w.WriteString(s)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
