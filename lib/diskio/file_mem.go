// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// MemFile is a File that lives entirely in memory.  The zero value is
// an empty, open file with no name.
type MemFile[A ~int64] struct {
	name   string
	mu     sync.Mutex
	dat    []byte
	closed bool
}

var _ File[assertAddr] = (*MemFile[assertAddr])(nil)

func NewMemFile[A ~int64](name string, content []byte) *MemFile[A] {
	return &MemFile[A]{
		name: name,
		dat:  append([]byte(nil), content...),
	}
}

func (f *MemFile[A]) Name() string { return f.name }

func (f *MemFile[A]) Size() A {
	f.mu.Lock()
	defer f.mu.Unlock()
	return A(len(f.dat))
}

// Bytes returns a copy of the current content.
func (f *MemFile[A]) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.dat...)
}

func (f *MemFile[A]) check(op string, off A) error {
	if f.closed {
		return &os.PathError{Op: op, Path: f.name, Err: os.ErrClosed}
	}
	if off < 0 {
		return &os.PathError{Op: op, Path: f.name, Err: fmt.Errorf("negative offset: %d", off)}
	}
	return nil
}

func (f *MemFile[A]) ReadAt(p []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("read", off); err != nil {
		return 0, err
	}
	if off >= A(len(f.dat)) {
		return 0, io.EOF
	}
	n := copy(p, f.dat[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MemFile[A]) WriteAt(p []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("write", off); err != nil {
		return 0, err
	}
	f.resize(off + A(len(p)))
	return copy(f.dat[off:], p), nil
}

// resize only ever grows the file; newly exposed bytes are zero.
func (f *MemFile[A]) resize(size A) {
	if size <= A(len(f.dat)) {
		return
	}
	if size <= A(cap(f.dat)) {
		tail := f.dat[len(f.dat):size]
		for i := range tail {
			tail[i] = 0
		}
		f.dat = f.dat[:size]
		return
	}
	grown := make([]byte, size, size*2)
	copy(grown, f.dat)
	f.dat = grown
}

func (f *MemFile[A]) Truncate(size A) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("truncate", size); err != nil {
		return err
	}
	if size < A(len(f.dat)) {
		f.dat = f.dat[:size]
		return nil
	}
	f.resize(size)
	return nil
}

func (f *MemFile[A]) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check("sync", 0)
}

func (f *MemFile[A]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("close", 0); err != nil {
		return err
	}
	f.closed = true
	return nil
}
