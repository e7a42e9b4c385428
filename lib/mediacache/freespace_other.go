// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package mediacache

import (
	"errors"
	"os"
)

// FreeSpace is not implemented on this platform; automatic write
// permission then stays at its previous setting.
func FreeSpace(dir string) (int64, error) {
	return 0, &os.PathError{Op: "statfs", Path: dir, Err: errUnsupported}
}

var errUnsupported = errors.New("not supported on this platform")
