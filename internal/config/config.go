// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config reads the MEMTRAQ_* environment variables that select the
// log sinks and flags (spec §6) into a plain struct, once, at
// initialization; MEMTRAQ_DEBUG and MEMTRAQ_TRACE_<CLASS> are read by
// internal/trace instead. There
// is deliberately no flag parsing and no layered/precedence config
// framework -- the teacher codebase takes its knobs as constructor
// arguments, and this module's only external configuration surface is the
// environment.
package config

import "os"

// Config is the fully resolved set of environment-derived knobs.
type Config struct {
	// LogPath is the path of the output log file. Empty disables file
	// output.
	LogPath string

	// TargetAddr is an IPv4 address string; when non-empty, a UDP
	// socket is opened to TargetAddr:6001.
	TargetAddr string

	// Enabled is the initial value of the "enabled" flag.
	Enabled bool

	// Resolve controls whether captured backtraces are symbolized.
	Resolve bool

	// BacktraceOnFree controls whether a free() call captures a
	// backtrace at all.
	BacktraceOnFree bool
}

// FromEnviron reads MEMTRAQ_LOG, MEMTRAQ_TARGET, MEMTRAQ_ENABLED,
// MEMTRAQ_RESOLVE and MEMTRAQ_BACKTRACE_FREE from the process environment.
func FromEnviron() Config {
	return Config{
		LogPath:         os.Getenv("MEMTRAQ_LOG"),
		TargetAddr:      os.Getenv("MEMTRAQ_TARGET"),
		Enabled:         boolVar("MEMTRAQ_ENABLED", true),
		Resolve:         boolVar("MEMTRAQ_RESOLVE", true),
		BacktraceOnFree: boolVar("MEMTRAQ_BACKTRACE_FREE", true),
	}
}

// boolVar implements the spec's "'0' disables, any other value enables"
// rule, with an absent variable defaulting to def.
func boolVar(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return v != "0"
}
