// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package safefile

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"golang.org/x/sys/unix"

	"git.lukeshu.com/mediacache-ng/lib/containers"
)

// Op identifies which operation a FileError came from.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpSeek
	OpTruncate
	OpSync
	OpClose
)

var _ fmt.Stringer = Op(0)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSeek:
		return "seek"
	case OpTruncate:
		return "truncate"
	case OpSync:
		return "sync"
	case OpClose:
		return "close"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// argName is what the operation's numeric argument is called in error
// messages.
func (op Op) argName() string {
	if op == OpRead {
		return "length"
	}
	return "offset"
}

// ErrInvalidArgument is the Cause of a FileError for a negative length
// or offset; the handle is not touched in that case.
var ErrInvalidArgument = errors.New("invalid argument")

// FileError is the error returned by every operation in this package.
// It is constructed at the failure site and never modified.
type FileError struct {
	Op Op
	// Name is the handle's name, or "" if the handle could not tell
	// us.
	Name string
	// Arg is the length or offset that was requested, for the
	// operations that take one.
	Arg containers.Optional[int64]
	// Cause is the error returned by the handle, or the recovered
	// panic converted by derror.PanicToError.
	Cause error
}

var _ error = (*FileError)(nil)

func (e *FileError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%v failure", e.Op)
	if e.Name != "" {
		fmt.Fprintf(&buf, ": %s", e.Name)
	}
	if e.Arg.OK {
		fmt.Fprintf(&buf, " (%s=%d)", e.Op.argName(), e.Arg.Val)
	}
	fmt.Fprintf(&buf, ": %v", e.Cause)
	return buf.String()
}

func (e *FileError) Unwrap() error { return e.Cause }

// IsOp reports whether err is (or wraps) a FileError from op.
func IsOp(err error, op Op) bool {
	var fileErr *FileError
	return errors.As(err, &fileErr) && fileErr.Op == op
}

// IsNoSpace reports whether err was caused by the backing store being
// full, either by running out of blocks or by exceeding a quota.
// Freeing space and trying again may help.
func IsNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}

// IsPermission reports whether err was caused by a lack of permission,
// including a read-only file system.  Trying again will not help.
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, unix.EROFS)
}
