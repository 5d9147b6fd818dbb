// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eventlog

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/chombourger/memtraq/internal/trace"
)

// UDPSourcePort and UDPDestPort are fixed by spec §6.
const (
	UDPSourcePort = 8000
	UDPDestPort   = 6001
)

// Logger owns the log file and/or UDP socket and delivers whole frames to
// either or both. It performs no batching: every call to Write produces
// exactly one deliverable record, and a frame is never split across
// writes. Logger has no lock of its own -- serialization is the log
// lock's job, held by internal/core around every call.
type Logger struct {
	file   io.Writer
	udpFD  int
	udpDst unix.Sockaddr
}

// NewMemSinkLogger builds a Logger around an in-memory sink (a *MemSink),
// the same role lldb's MemFiler plays in tests that exercise a Filer
// without touching disk, so unit tests -- in this package and in
// internal/core -- can assert on written frames without opening a real
// file.
func NewMemSinkLogger(sink *MemSink) *Logger {
	return &Logger{file: sink, udpFD: -1}
}

// Open opens the configured sinks. logPath may be empty (file output
// disabled); on open failure a fallback sink (stderr's backing file) is
// used instead and the error is logged via trace, per spec §4.7 -- Open
// itself never fails outright for a bad log path. targetAddr, if
// non-empty, must be a dotted IPv4 address; failure to open the UDP
// socket is also non-fatal and only disables UDP delivery.
func Open(logPath, targetAddr string) *Logger {
	l := &Logger{udpFD: -1}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			trace.Printf(trace.Log, 1, "could not open log file %q: %v, falling back to stderr", logPath, err)
			l.file = os.Stderr
		} else {
			l.file = f
		}
	}

	if targetAddr != "" {
		fd, dst, err := openUDP(targetAddr)
		if err != nil {
			trace.Printf(trace.Log, 1, "could not open UDP sink to %q: %v", targetAddr, err)
		} else {
			l.udpFD = fd
			l.udpDst = dst
		}
	}

	return l
}

func openUDP(addr string) (int, unix.Sockaddr, error) {
	ip := net.ParseIP(addr)
	ip4 := ip.To4()
	if ip4 == nil {
		return -1, nil, fmt.Errorf("eventlog: %q is not a valid IPv4 address", addr)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, nil, err
	}

	local := &unix.SockaddrInet4{Port: UDPSourcePort}
	if err := unix.Bind(fd, local); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}

	dst := &unix.SockaddrInet4{Port: UDPDestPort}
	copy(dst.Addr[:], ip4)
	return fd, dst, nil
}

// Write delivers frame (already length-prefixed, from Encode) to every
// configured sink. UDP failures are silently dropped, per spec §7; the
// file sink, if configured, still receives the frame.
func (l *Logger) Write(frame []byte) {
	if l.file != nil {
		if _, err := l.file.Write(frame); err != nil {
			trace.Printf(trace.Log, 1, "write to log file failed: %v", err)
		}
	}
	if l.udpFD >= 0 {
		if err := unix.Sendto(l.udpFD, frame, 0, l.udpDst); err != nil {
			trace.Printf(trace.Log, 2, "udp send failed (dropped): %v", err)
		}
	}
}

// WriteDiagnostic writes a single newline-terminated text line directly
// to the log file, bypassing the binary frame format entirely. Used for
// the one diagnostic spec §7 calls out as being written to the log file
// itself rather than swallowed into trace: an unsupported resize of a
// bootstrap-heap pointer (testable scenario S5).
func (l *Logger) WriteDiagnostic(line string) {
	if l.file == nil {
		return
	}
	if _, err := io.WriteString(l.file, line+"\n"); err != nil {
		trace.Printf(trace.Log, 1, "write diagnostic to log file failed: %v", err)
	}
}

// Flush syncs the log file to stable storage, if one is configured and
// supports it (a *MemSink, used in tests, does not need syncing). Used
// by Disable (spec §4.8).
func (l *Logger) Flush() error {
	if s, ok := l.file.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close releases the sinks. stderr, used as the fallback file sink, is
// left open.
func (l *Logger) Close() error {
	var ferr error
	if c, ok := l.file.(io.Closer); ok && l.file != os.Stderr {
		ferr = c.Close()
	}
	if l.udpFD >= 0 {
		unix.Close(l.udpFD)
		l.udpFD = -1
	}
	return ferr
}
