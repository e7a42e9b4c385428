// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package safefile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/mediacache-ng/lib/diskio"
	"git.lukeshu.com/mediacache-ng/lib/safefile"
)

// TestMmapFault shrinks a memory-mapped file behind the mapping's
// back, so that reading the lost pages raises SIGBUS.  Without
// safefile that kills the test binary.
func TestMmapFault(t *testing.T) {
	t.Parallel()
	pageSize := os.Getpagesize()
	name := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(name, make([]byte, 4*pageSize), 0o644))

	file, err := diskio.OpenMmapFile[int64](name, os.O_RDWR, 0)
	require.NoError(t, err)
	h := diskio.NewStatefulFile[int64](file)
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, os.Truncate(name, 0))

	require.NoError(t, safefile.SeekTo(h, int64(2*pageSize)))
	var dat []byte
	assert.NotPanics(t, func() {
		dat, err = safefile.ReadBounded(h, 16)
	})
	assert.Nil(t, dat)
	var fileErr *safefile.FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, safefile.OpRead, fileErr.Op)
	assert.Equal(t, name, fileErr.Name)

	assert.NotPanics(t, func() {
		err = safefile.Write(h, []byte("lost"))
	})
	assert.True(t, safefile.IsOp(err, safefile.OpWrite))
}
