// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"fmt"
	"strconv"
	"strings"
)

// FragmentKind says which part of an entry a Fragment names.
type FragmentKind int

const (
	FragmentPrefix FragmentKind = iota
	FragmentSuffix
	FragmentRange
)

// A Fragment names part of an entry whose total length may not be
// known yet: the first N bytes, the last N bytes, or an explicit
// range.
type Fragment struct {
	Kind FragmentKind
	// N is the byte count for FragmentPrefix and FragmentSuffix.
	N int64
	// Range is used for FragmentRange.
	Range Range
}

func Prefix(n int64) Fragment   { return Fragment{Kind: FragmentPrefix, N: n} }
func Suffix(n int64) Fragment   { return Fragment{Kind: FragmentSuffix, N: n} }
func Explicit(r Range) Fragment { return Fragment{Kind: FragmentRange, Range: r} }

// Resolve turns the fragment into a range of an entry that is
// totalLength bytes long.  Prefixes and suffixes are clipped to the
// entry; explicit ranges are returned unchanged.
func (f Fragment) Resolve(totalLength int64) Range {
	switch f.Kind {
	case FragmentPrefix:
		return Range{Beg: 0, End: min(f.N, totalLength)}
	case FragmentSuffix:
		return Range{Beg: max(0, totalLength-f.N), End: totalLength}
	default:
		return f.Range
	}
}

func (f Fragment) String() string {
	switch f.Kind {
	case FragmentPrefix:
		return fmt.Sprintf("prefix:%d", f.N)
	case FragmentSuffix:
		return fmt.Sprintf("suffix:%d", f.N)
	default:
		return f.Range.String()
	}
}

// ParseFragment parses "prefix:N", "suffix:N", or "BEG-END".
func ParseFragment(str string) (Fragment, error) {
	kind, nStr, ok := strings.Cut(str, ":")
	if !ok {
		r, err := ParseRange(str)
		if err != nil {
			return Fragment{}, err
		}
		return Explicit(r), nil
	}
	n, err := strconv.ParseInt(nStr, 10, 64)
	if err != nil || n < 0 {
		return Fragment{}, fmt.Errorf("invalid fragment %q: bad byte count %q", str, nStr)
	}
	switch kind {
	case "prefix":
		return Prefix(n), nil
	case "suffix":
		return Suffix(n), nil
	default:
		return Fragment{}, fmt.Errorf("invalid fragment %q: unknown kind %q", str, kind)
	}
}
