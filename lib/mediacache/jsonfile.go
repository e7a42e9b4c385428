// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"git.lukeshu.com/go/typedsync"

	"git.lukeshu.com/mediacache-ng/lib/diskio"
	"git.lukeshu.com/mediacache-ng/lib/safefile"
	"git.lukeshu.com/mediacache-ng/lib/textui"
)

// OpenFunc opens a file as a handle.  It has the same contract as
// os.OpenFile.
type OpenFunc func(name string, flag int, perm fs.FileMode) (diskio.Handle, error)

// OpenOS is the default OpenFunc.
func OpenOS(name string, flag int, perm fs.FileMode) (diskio.Handle, error) {
	fh, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return fh, nil
}

// OpenPositional is an OpenFunc that keeps its own cursor over
// positional reads and writes instead of using the kernel's file
// offset.
func OpenPositional(name string, flag int, perm fs.FileMode) (diskio.Handle, error) {
	file, err := diskio.OpenFile[int64](name, flag, perm)
	if err != nil {
		return nil, err
	}
	return diskio.NewStatefulFile[int64](file), nil
}

// metadataSizeLimit bounds how much of a metadata file is read back;
// anything bigger is not something this package wrote.
var metadataSizeLimit = textui.Tunable(int64(16) << 20)

var jsonBufPool = typedsync.Pool[*bytes.Buffer]{
	New: func() *bytes.Buffer {
		return new(bytes.Buffer)
	},
}

// writeJSONFile replaces filename with the JSON encoding of obj.  The
// new content is written and synced to a temporary file that is then
// renamed over filename, so a failure at any point leaves the old
// content in place.
func writeJSONFile(open OpenFunc, filename string, obj any) (err error) {
	buf, _ := jsonBufPool.Get()
	defer jsonBufPool.Put(buf)
	defer buf.Reset()

	if err := lowmemjson.NewEncoder(lowmemjson.NewReEncoder(buf, lowmemjson.ReEncoderConfig{
		Indent:                "\t",
		CompactIfUnder:        80, //nolint:gomnd // This is what looks nice.
		ForceTrailingNewlines: true,
	})).Encode(obj); err != nil {
		return fmt.Errorf("encode %s: %w", filename, err)
	}

	tmpname := filename + ".tmp"
	h, err := open(tmpname, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpname)
		}
	}()
	if err := safefile.Write(h, buf.Bytes()); err != nil {
		_ = safefile.Close(h)
		return err
	}
	if err := safefile.Synchronize(h); err != nil {
		_ = safefile.Close(h)
		return err
	}
	if err := safefile.Close(h); err != nil {
		return err
	}
	return os.Rename(tmpname, filename)
}

// readJSONFile decodes filename into a new T.
func readJSONFile[T any](open OpenFunc, filename string) (T, error) {
	var zero T
	h, err := open(filename, os.O_RDONLY, 0)
	if err != nil {
		return zero, err
	}
	dat, err := safefile.ReadBounded(h, metadataSizeLimit)
	if err != nil {
		_ = safefile.Close(h)
		return zero, err
	}
	// A close failure after a complete read loses nothing.
	_ = safefile.Close(h)
	var ret T
	if err := lowmemjson.NewDecoder(bytes.NewReader(dat)).DecodeThenEOF(&ret); err != nil {
		return zero, fmt.Errorf("decode %s: %w", filename, err)
	}
	return ret, nil
}
