// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package safefile wraps the risky operations on an open file handle
// so that none of them can take down the process.
//
// Each operation calls the handle exactly once (reads may call it
// repeatedly until the requested length or end-of-file), and any
// error the handle returns, any panic it raises, and any memory fault
// it causes (such as SIGBUS on a memory-mapped file that was
// truncated) comes back as a *FileError.  Nothing is retried;
// whether to retry is up to the caller.
//
// None of the operations lock anything.  A handle has a single cursor
// shared by all of its operations, so the caller must not use one
// handle from two goroutines at once; open a second handle instead.
package safefile

import (
	"errors"
	"io"
	"runtime/debug"

	"github.com/datawire/dlib/derror"

	"git.lukeshu.com/mediacache-ng/lib/containers"
	"git.lukeshu.com/mediacache-ng/lib/diskio"
)

// handleName asks the handle for its name without trusting it to
// behave.
func handleName(h diskio.Handle) (name string) {
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	if h == nil {
		return ""
	}
	return h.Name()
}

func newError(op Op, h diskio.Handle, arg containers.Optional[int64], cause error) *FileError {
	return &FileError{
		Op:    op,
		Name:  handleName(h),
		Arg:   arg,
		Cause: cause,
	}
}

// errPanicNil stands in for a panic whose value was nil, which
// recover() cannot tell apart from no panic at all.
var errPanicNil = errors.New("panic(nil)")

// guard runs fn as operation op on h.  Any panic or memory fault
// inside fn becomes a *FileError, including a panic(nil), which is
// detected by fn never having returned.
func guard(op Op, h diskio.Handle, arg containers.Optional[int64], fn func() error) (err error) {
	returned := false
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if returned {
			return
		}
		cause := derror.PanicToError(recover())
		if cause == nil {
			cause = errPanicNil
		}
		err = newError(op, h, arg, cause)
	}()
	err = fn()
	returned = true
	return err
}

// ReadBounded reads up to length bytes from the handle's cursor.  It
// returns fewer bytes only if it hits end-of-file; hitting
// end-of-file is not an error, so an empty, non-nil slice with a nil
// error means the cursor was already at the end.  On failure it
// returns no data.
func ReadBounded(h diskio.Handle, length int64) ([]byte, error) {
	arg := containers.OptionalValue(length)
	var dat []byte
	err := guard(OpRead, h, arg, func() error {
		if length < 0 {
			return newError(OpRead, h, arg, ErrInvalidArgument)
		}
		// io.ReadAll grows the buffer as data arrives, rather than
		// trusting length to be a sane allocation size.
		var err error
		dat, err = io.ReadAll(io.LimitReader(h, length))
		if err != nil {
			return newError(OpRead, h, arg, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dat, nil
}

// Write writes all of dat at the handle's cursor, advancing it by
// len(dat).  If it returns an error, any prefix of dat may or may not
// have been written.
func Write(h diskio.Handle, dat []byte) error {
	var arg containers.Optional[int64]
	return guard(OpWrite, h, arg, func() error {
		n, err := h.Write(dat)
		if err == nil && n < len(dat) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return newError(OpWrite, h, arg, err)
		}
		return nil
	})
}

// SeekToEnd moves the cursor to the end of the file and returns the
// new offset, which is the file's length.  When err is non-nil the
// returned offset is 0 and means nothing.
func SeekToEnd(h diskio.Handle) (int64, error) {
	var arg containers.Optional[int64]
	var off int64
	err := guard(OpSeek, h, arg, func() error {
		var err error
		off, err = h.Seek(0, io.SeekEnd)
		if err != nil {
			return newError(OpSeek, h, arg, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return off, nil
}

// SeekTo moves the cursor to off.  Seeking past the end of the file
// is allowed if the handle allows it.  After a failure the cursor
// position is unknown.
func SeekTo(h diskio.Handle, off int64) error {
	arg := containers.OptionalValue(off)
	return guard(OpSeek, h, arg, func() error {
		if off < 0 {
			return newError(OpSeek, h, arg, ErrInvalidArgument)
		}
		if _, err := h.Seek(off, io.SeekStart); err != nil {
			return newError(OpSeek, h, arg, err)
		}
		return nil
	})
}

// TruncateAt sets the file's size to off, shrinking it or extending
// it, and leaves the cursor at off.
func TruncateAt(h diskio.Handle, off int64) error {
	arg := containers.OptionalValue(off)
	return guard(OpTruncate, h, arg, func() error {
		if off < 0 {
			return newError(OpTruncate, h, arg, ErrInvalidArgument)
		}
		if err := h.Truncate(off); err != nil {
			return newError(OpTruncate, h, arg, err)
		}
		if _, err := h.Seek(off, io.SeekStart); err != nil {
			return newError(OpTruncate, h, arg, err)
		}
		return nil
	})
}

// Synchronize flushes everything written so far to stable storage.
func Synchronize(h diskio.Handle) error {
	var arg containers.Optional[int64]
	return guard(OpSync, h, arg, func() error {
		if err := h.Sync(); err != nil {
			return newError(OpSync, h, arg, err)
		}
		return nil
	})
}

// Close releases the handle.  An error from Close may be a write
// error that was deferred until close; it does not say whether any
// data was lost.  The handle must not be used after Close, whatever
// Close returned.
func Close(h diskio.Handle) error {
	var arg containers.Optional[int64]
	return guard(OpClose, h, arg, func() error {
		if err := h.Close(); err != nil {
			return newError(OpClose, h, arg, err)
		}
		return nil
	})
}

// File binds a handle to the operations of this package.  Like the
// operations themselves, a File does no locking.
type File struct {
	h diskio.Handle
}

func New(h diskio.Handle) *File {
	return &File{h: h}
}

func (f *File) Handle() diskio.Handle                    { return f.h }
func (f *File) ReadBounded(length int64) ([]byte, error) { return ReadBounded(f.h, length) }
func (f *File) Write(dat []byte) error                   { return Write(f.h, dat) }
func (f *File) SeekToEnd() (int64, error)                { return SeekToEnd(f.h) }
func (f *File) SeekTo(off int64) error                   { return SeekTo(f.h, off) }
func (f *File) TruncateAt(off int64) error               { return TruncateAt(f.h, off) }
func (f *File) Synchronize() error                       { return Synchronize(f.h) }
func (f *File) Close() error                             { return Close(f.h) }
