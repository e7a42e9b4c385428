// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package profile writes Go runtime profiles of a cache run to files.
package profile

import (
	"io"
	"runtime/pprof"
	"runtime/trace"
)

type StopFunc = func() error

type startFunc = func(io.Writer) (StopFunc, error)

// CPU starts a CPU profile written to w; the returned function stops
// it.
func CPU(w io.Writer) (StopFunc, error) {
	if err := pprof.StartCPUProfile(w); err != nil {
		return nil, err
	}
	return func() error {
		pprof.StopCPUProfile()
		return nil
	}, nil
}

// Trace starts an execution trace written to w; the returned
// function stops it.
func Trace(w io.Writer) (StopFunc, error) {
	if err := trace.Start(w); err != nil {
		return nil, err
	}
	return func() error {
		trace.Stop()
		return nil
	}, nil
}

// Named returns a startFunc-compatible function that snapshots the
// named runtime/pprof profile into w at stop time.  Unknown names
// write nothing.
func Named(name string) func(io.Writer) (StopFunc, error) {
	return func(w io.Writer) (StopFunc, error) {
		return func() error {
			if prof := pprof.Lookup(name); prof != nil {
				return prof.WriteTo(w, 0)
			}
			return nil
		}, nil
	}
}

// The runtime's built-in named profiles that are worth collecting
// from a cache run.  The heap profile shows packet buffers; block and
// mutex show contention on cache files.
var namedProfiles = []string{
	"goroutine",
	"heap",
	"allocs",
	"block",
	"mutex",
}

var (
	_ startFunc = CPU
	_ startFunc = Trace
)
