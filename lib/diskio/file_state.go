// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"
	"io"
)

type statefulFile[A ~int64] struct {
	inner File[A]
	pos   A
}

var (
	_ File[assertAddr] = (*statefulFile[assertAddr])(nil)
	_ io.ByteReader    = (*statefulFile[assertAddr])(nil)

	// Only an int64-addressed file has Handle's Truncate signature.
	_ Handle = (*statefulFile[int64])(nil)
)

// NewStatefulFile wraps a positional File with a cursor.  The cursor
// starts at 0.  NewStatefulFile[int64] returns a Handle.
func NewStatefulFile[A ~int64](file File[A]) *statefulFile[A] {
	return &statefulFile[A]{
		inner: file,
	}
}

func (sf *statefulFile[A]) Name() string                           { return sf.inner.Name() }
func (sf *statefulFile[A]) Size() A                                { return sf.inner.Size() }
func (sf *statefulFile[A]) Close() error                           { return sf.inner.Close() }
func (sf *statefulFile[A]) ReadAt(dat []byte, off A) (int, error)  { return sf.inner.ReadAt(dat, off) }
func (sf *statefulFile[A]) WriteAt(dat []byte, off A) (int, error) { return sf.inner.WriteAt(dat, off) }
func (sf *statefulFile[A]) Sync() error                            { return sf.inner.Sync() }

// Truncate implements both File and Handle; like os.File.Truncate it
// does not move the cursor.
func (sf *statefulFile[A]) Truncate(size A) error { return sf.inner.Truncate(size) }

func (sf *statefulFile[A]) Read(dat []byte) (n int, err error) {
	n, err = sf.ReadAt(dat, sf.pos)
	sf.pos += A(n)
	return n, err
}

func (sf *statefulFile[A]) ReadByte() (byte, error) {
	var dat [1]byte
	_, err := sf.Read(dat[:])
	return dat[0], err
}

func (sf *statefulFile[A]) Write(dat []byte) (n int, err error) {
	n, err = sf.WriteAt(dat, sf.pos)
	sf.pos += A(n)
	return n, err
}

// Seek permits positions past the end of the file; a later Write
// there extends the file.
func (sf *statefulFile[A]) Seek(offset int64, whence int) (int64, error) {
	var base A
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = sf.pos
	case io.SeekEnd:
		base = sf.inner.Size()
	default:
		return int64(sf.pos), fmt.Errorf("seek %s: invalid whence: %d", sf.Name(), whence)
	}
	pos := base + A(offset)
	if pos < 0 {
		return int64(sf.pos), fmt.Errorf("seek %s: negative position: %d", sf.Name(), pos)
	}
	sf.pos = pos
	return int64(pos), nil
}
