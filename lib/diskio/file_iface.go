// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diskio describes the file handles that the rest of the
// cache is built on, and provides a handful of implementations of
// them.
package diskio

import (
	"io"
	"os"
)

// Handle is an open file with an implicit cursor.  It is the
// platform-provided object that lib/safefile wraps; any of its
// methods may fail, and implementations are free to panic.
//
// *os.File implements Handle.
type Handle interface {
	Name() string
	io.Reader
	io.Writer
	io.Seeker
	Truncate(size int64) error
	Sync() error
	io.Closer
}

// File is a positional file, with no cursor.  Use NewStatefulFile to
// turn a File into a Handle.
type File[A ~int64] interface {
	Name() string
	Size() A
	Close() error
	ReadAt(p []byte, off A) (n int, err error)
	WriteAt(p []byte, off A) (n int, err error)
	Truncate(size A) error
	Sync() error
}

type assertAddr int64

var (
	_ io.WriterAt = File[int64](nil)
	_ io.ReaderAt = File[int64](nil)

	_ Handle = (*os.File)(nil)
)
