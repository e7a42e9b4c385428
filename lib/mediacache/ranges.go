// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Range is the half-open byte range [Beg, End) of a cache entry.
type Range struct {
	Beg int64 `json:"beg"`
	End int64 `json:"end"`
}

var _ fmt.Stringer = Range{}

// String formats the range as "BEG-END"; ParseRange is the inverse.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Beg, r.End)
}

// ParseRange parses a range of the form "BEG-END".
func ParseRange(str string) (Range, error) {
	begStr, endStr, ok := strings.Cut(str, "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid range %q: expected BEG-END", str)
	}
	beg, err := strconv.ParseInt(begStr, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", str, err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", str, err)
	}
	r := Range{Beg: beg, End: end}
	if beg < 0 || end < beg {
		return Range{}, fmt.Errorf("invalid range %q: bounds out of order", str)
	}
	return r, nil
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 { return r.End - r.Beg }

// Valid reports whether the range contains at least one byte.
func (r Range) Valid() bool { return r.Beg >= 0 && r.Beg < r.End }

// Overlaps reports whether the two ranges share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return r.Beg < o.End && o.Beg < r.End
}

// touches is like Overlaps, but is also true for adjacent ranges.
func (r Range) touches(o Range) bool {
	return r.Beg <= o.End && o.Beg <= r.End
}

// Clamp returns the part of r that lies within bounds; the result is
// not Valid if they do not overlap.
func (r Range) Clamp(bounds Range) Range {
	return Range{
		Beg: max(r.Beg, bounds.Beg),
		End: min(r.End, bounds.End),
	}
}

// Split cuts the range into consecutive pieces of at most limit
// bytes.  A limit <= 0 means no limit.
func (r Range) Split(limit int64) []Range {
	if !r.Valid() {
		return nil
	}
	if limit <= 0 || r.Len() <= limit {
		return []Range{r}
	}
	ret := make([]Range, 0, (r.Len()+limit-1)/limit)
	for beg := r.Beg; beg < r.End; beg += limit {
		ret = append(ret, Range{Beg: beg, End: min(beg+limit, r.End)})
	}
	return ret
}

// Subtract returns the pieces of r that are not covered by set, in
// order.
func (r Range) Subtract(set RangeSet) []Range {
	var ret []Range
	cur := r.Beg
	for _, have := range set {
		if have.End <= cur {
			continue
		}
		if have.Beg >= r.End {
			break
		}
		if have.Beg > cur {
			ret = append(ret, Range{Beg: cur, End: have.Beg})
		}
		cur = have.End
	}
	if cur < r.End {
		ret = append(ret, Range{Beg: cur, End: r.End})
	}
	return ret
}

// RangeSet is a set of bytes, stored as sorted ranges that neither
// overlap nor touch.  The zero RangeSet is empty and ready to use.
// Methods return a new set rather than modifying the receiver.
type RangeSet []Range

// Union returns the set with r added; r is merged with any members
// that it overlaps or touches.
func (s RangeSet) Union(r Range) RangeSet {
	if !r.Valid() {
		return s
	}
	ret := make(RangeSet, 0, len(s)+1)
	i := 0
	for ; i < len(s) && s[i].End < r.Beg; i++ {
		ret = append(ret, s[i])
	}
	for ; i < len(s) && s[i].touches(r); i++ {
		r.Beg = min(r.Beg, s[i].Beg)
		r.End = max(r.End, s[i].End)
	}
	ret = append(ret, r)
	ret = append(ret, s[i:]...)
	return ret
}

// Subtract returns the set with every byte in r removed.
func (s RangeSet) Subtract(r Range) RangeSet {
	if !r.Valid() {
		return s
	}
	ret := make(RangeSet, 0, len(s)+1)
	for _, have := range s {
		if !have.Overlaps(r) {
			ret = append(ret, have)
			continue
		}
		if have.Beg < r.Beg {
			ret = append(ret, Range{Beg: have.Beg, End: r.Beg})
		}
		if have.End > r.End {
			ret = append(ret, Range{Beg: r.End, End: have.End})
		}
	}
	return ret
}

// Overlaps returns the members of the set that share at least one
// byte with r, unclamped.
func (s RangeSet) Overlaps(r Range) []Range {
	var ret []Range
	for _, have := range s {
		if have.Overlaps(r) {
			ret = append(ret, have)
		}
	}
	return ret
}

// Covers reports whether every byte of r is in the set.
func (s RangeSet) Covers(r Range) bool {
	if !r.Valid() {
		return true
	}
	for _, have := range s {
		if have.Beg <= r.Beg && r.End <= have.End {
			return true
		}
	}
	return false
}

// Len returns the number of bytes in the set.
func (s RangeSet) Len() int64 {
	var n int64
	for _, r := range s {
		n += r.Len()
	}
	return n
}

// normalize returns the set rebuilt from arbitrary (possibly
// unsorted, overlapping, or invalid) ranges, such as a set read back
// from disk.
func (s RangeSet) normalize() RangeSet {
	sorted := slices.Clone(s)
	slices.SortFunc(sorted, func(a, b Range) bool {
		return a.Beg < b.Beg
	})
	var ret RangeSet
	for _, r := range sorted {
		ret = ret.Union(r)
	}
	return ret
}
