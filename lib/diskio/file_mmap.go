// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

package diskio

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapFile is a File backed by a shared, writable memory mapping of
// an OS file.
//
// Reads and writes are plain memory copies.  If another process
// shrinks the file out from under the mapping, touching the lost
// pages raises SIGBUS; the Go runtime turns that into a panic only if
// runtime/debug.SetPanicOnFault is enabled on the calling goroutine,
// and kills the process otherwise.  lib/safefile enables it.
type MmapFile[A ~int64] struct {
	mu   sync.RWMutex
	fh   *os.File
	dat  []byte
	size A
}

var _ File[assertAddr] = (*MmapFile[assertAddr])(nil)

// OpenMmapFile opens the named file read-write and maps all of it.
// os.O_RDWR is always added to flag.
func OpenMmapFile[A ~int64](name string, flag int, perm os.FileMode) (*MmapFile[A], error) {
	fh, err := os.OpenFile(name, (flag&^(os.O_RDONLY|os.O_WRONLY))|os.O_RDWR, perm)
	if err != nil {
		return nil, err
	}
	fi, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	ret := &MmapFile[A]{
		fh: fh,
	}
	if err := ret.remap(A(fi.Size())); err != nil {
		_ = fh.Close()
		return nil, err
	}
	return ret, nil
}

// remap must be called with mu held for writing.
func (f *MmapFile[A]) remap(size A) error {
	if f.dat != nil {
		if err := unix.Munmap(f.dat); err != nil {
			return &os.PathError{Op: "munmap", Path: f.fh.Name(), Err: err}
		}
		f.dat = nil
	}
	f.size = size
	if size == 0 {
		// mmap(2) rejects zero-length mappings.
		return nil
	}
	dat, err := unix.Mmap(int(f.fh.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.size = 0
		return &os.PathError{Op: "mmap", Path: f.fh.Name(), Err: err}
	}
	f.dat = dat
	return nil
}

func (f *MmapFile[A]) Name() string { return f.fh.Name() }

// Size returns the size of the file, picking up growth by other
// handles on the same file.
func (f *MmapFile[A]) Size() A {
	_ = f.refresh()
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// refresh remaps the file if another handle has grown it.  Shrinking
// is deliberately not noticed; see the type documentation.
func (f *MmapFile[A]) refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fi, err := f.fh.Stat()
	if err != nil {
		return err
	}
	if size := A(fi.Size()); size > f.size {
		return f.remap(size)
	}
	return nil
}

func (f *MmapFile[A]) ReadAt(p []byte, off A) (int, error) {
	if off < 0 {
		return 0, &os.PathError{Op: "read", Path: f.fh.Name(), Err: unix.EINVAL}
	}
	f.mu.RLock()
	stale := off+A(len(p)) > f.size
	f.mu.RUnlock()
	if stale {
		if err := f.refresh(); err != nil {
			return 0, err
		}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if off >= f.size {
		return 0, io.EOF
	}
	n := copy(p, f.dat[off:f.size])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MmapFile[A]) WriteAt(p []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 {
		return 0, &os.PathError{Op: "write", Path: f.fh.Name(), Err: unix.EINVAL}
	}
	if end := off + A(len(p)); end > f.size {
		if err := f.fh.Truncate(int64(end)); err != nil {
			return 0, err
		}
		if err := f.remap(end); err != nil {
			return 0, err
		}
	}
	return copy(f.dat[off:], p), nil
}

func (f *MmapFile[A]) Truncate(size A) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fh.Truncate(int64(size)); err != nil {
		return err
	}
	return f.remap(size)
}

func (f *MmapFile[A]) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.dat != nil {
		if err := unix.Msync(f.dat, unix.MS_SYNC); err != nil {
			return &os.PathError{Op: "msync", Path: f.fh.Name(), Err: err}
		}
	}
	return f.fh.Sync()
}

func (f *MmapFile[A]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var munmapErr error
	if f.dat != nil {
		if err := unix.Munmap(f.dat); err != nil {
			munmapErr = &os.PathError{Op: "munmap", Path: f.fh.Name(), Err: err}
		}
		f.dat = nil
	}
	closeErr := f.fh.Close()
	if munmapErr != nil {
		return munmapErr
	}
	return closeErr
}
