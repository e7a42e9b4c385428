// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// A Fault describes how one operation of a FaultyHandle misbehaves.
// The first Skip calls succeed; every later call fails with Err, or
// panics with Panic if Panics is set.  Panic may be nil.
type Fault struct {
	Skip   int
	Err    error
	Panics bool
	Panic  any
}

// FaultyHandle wraps a Handle and injects faults into it; it exists
// for exercising error paths.  Faults is keyed by operation name:
// "read", "write", "seek", "truncate", "sync", or "close".
type FaultyHandle struct {
	Handle
	Faults map[string]*Fault

	mu    sync.Mutex
	calls map[string]int
}

var _ Handle = (*FaultyHandle)(nil)

func (fh *FaultyHandle) inject(op string) error {
	fault, ok := fh.Faults[op]
	if !ok || fault == nil {
		return nil
	}
	fh.mu.Lock()
	if fh.calls == nil {
		fh.calls = make(map[string]int)
	}
	fh.calls[op]++
	n := fh.calls[op]
	fh.mu.Unlock()
	if n <= fault.Skip {
		return nil
	}
	if fault.Panics {
		panic(fault.Panic)
	}
	return fault.Err
}

func (fh *FaultyHandle) Read(p []byte) (int, error) {
	if err := fh.inject("read"); err != nil {
		return 0, err
	}
	return fh.Handle.Read(p)
}

func (fh *FaultyHandle) Write(p []byte) (int, error) {
	if err := fh.inject("write"); err != nil {
		return 0, err
	}
	return fh.Handle.Write(p)
}

func (fh *FaultyHandle) Seek(offset int64, whence int) (int64, error) {
	if err := fh.inject("seek"); err != nil {
		return 0, err
	}
	return fh.Handle.Seek(offset, whence)
}

func (fh *FaultyHandle) Truncate(size int64) error {
	if err := fh.inject("truncate"); err != nil {
		return err
	}
	return fh.Handle.Truncate(size)
}

func (fh *FaultyHandle) Sync() error {
	if err := fh.inject("sync"); err != nil {
		return err
	}
	return fh.Handle.Sync()
}

// Close always closes the inner handle, even when a fault is
// injected, the way a deferred write error surfaces from close(2)
// after the descriptor is already gone.
func (fh *FaultyHandle) Close() error {
	var injected error
	func() {
		returned := false
		defer func() {
			if !returned {
				p := recover()
				_ = fh.Handle.Close()
				panic(p)
			}
		}()
		injected = fh.inject("close")
		returned = true
	}()
	err := fh.Handle.Close()
	if injected != nil {
		return injected
	}
	return err
}

var faultKinds = map[string]func() Fault{
	"enospc": func() Fault { return Fault{Err: unix.ENOSPC} },
	"edquot": func() Fault { return Fault{Err: unix.EDQUOT} },
	"eio":    func() Fault { return Fault{Err: unix.EIO} },
	"eacces": func() Fault { return Fault{Err: unix.EACCES} },
	"erofs":  func() Fault { return Fault{Err: unix.EROFS} },
	"panic":  func() Fault { return Fault{Panics: true, Panic: "injected fault"} },
	"nil":    func() Fault { return Fault{Panics: true} },
}

// ParseFault parses a fault description of the form
// "OP:KIND[@SKIP]", such as "write:enospc" or "sync:eio@3".  KIND is
// one of enospc, edquot, eio, eacces, erofs, panic, or nil (a
// panic(nil)).
func ParseFault(str string) (op string, fault *Fault, err error) {
	op, kind, ok := strings.Cut(str, ":")
	if !ok {
		return "", nil, fmt.Errorf("invalid fault %q: expected OP:KIND[@SKIP]", str)
	}
	switch op {
	case "read", "write", "seek", "truncate", "sync", "close":
	default:
		return "", nil, fmt.Errorf("invalid fault %q: unknown operation %q", str, op)
	}
	skip := 0
	if kindStr, skipStr, ok := strings.Cut(kind, "@"); ok {
		kind = kindStr
		if _, err := fmt.Sscan(skipStr, &skip); err != nil || skip < 0 {
			return "", nil, fmt.Errorf("invalid fault %q: bad skip count %q", str, skipStr)
		}
	}
	mk, ok := faultKinds[kind]
	if !ok {
		return "", nil, fmt.Errorf("invalid fault %q: unknown kind %q", str, kind)
	}
	f := mk()
	f.Skip = skip
	return op, &f, nil
}
