// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

package mediacache

import (
	"io/fs"

	"git.lukeshu.com/mediacache-ng/lib/diskio"
)

// OpenMmap is an OpenFunc that accesses files through shared memory
// mappings.
func OpenMmap(name string, flag int, perm fs.FileMode) (diskio.Handle, error) {
	file, err := diskio.OpenMmapFile[int64](name, flag, perm)
	if err != nil {
		return nil, err
	}
	return diskio.NewStatefulFile[int64](file), nil
}
