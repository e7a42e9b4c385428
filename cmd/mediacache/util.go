// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"io"

	"git.lukeshu.com/go/lowmemjson"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
)

func writeJSON(w io.Writer, obj any) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	return lowmemjson.NewEncoder(lowmemjson.NewReEncoder(buffer, lowmemjson.ReEncoderConfig{
		Indent:                "\t",
		CompactIfUnder:        80, //nolint:gomnd // This is what looks nice.
		ForceTrailingNewlines: true,
	})).Encode(obj)
}

// rangeFlag is a pflag.Value for a mediacache.Fragment: "BEG-END",
// "prefix:N", or "suffix:N".
type rangeFlag struct {
	frag mediacache.Fragment
	set  bool
}

func (f *rangeFlag) Type() string { return "fragment" }

func (f *rangeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.frag.String()
}

func (f *rangeFlag) Set(str string) error {
	frag, err := mediacache.ParseFragment(str)
	if err != nil {
		return err
	}
	f.frag = frag
	f.set = true
	return nil
}

// resolve returns the flag's range within the entry, or the whole
// entry if the flag was not given.
func (f *rangeFlag) resolve(cfg mediacache.Config) mediacache.Range {
	if f.set {
		return f.frag.Resolve(cfg.ContentInfo.TotalLength)
	}
	return mediacache.Range{Beg: 0, End: cfg.ContentInfo.TotalLength}
}
