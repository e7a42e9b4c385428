// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

var sizeSuffixes = []struct {
	Suffix string
	Mult   int64
}{
	{"EiB", 1 << 60},
	{"PiB", 1 << 50},
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"B", 1},
}

// ParseIEC parses a byte count such as "512", "64KiB", or "1.5GiB".
func ParseIEC(str string) (int64, error) {
	str = strings.TrimSpace(str)
	mult := int64(1)
	num := str
	for _, s := range sizeSuffixes {
		if strings.HasSuffix(str, s.Suffix) {
			mult = s.Mult
			num = strings.TrimSpace(strings.TrimSuffix(str, s.Suffix))
			break
		}
	}
	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %q: negative", str)
		}
		if n > (1<<63-1)/mult {
			return 0, fmt.Errorf("invalid size: %q: too large", str)
		}
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %q", str)
	}
	if f < 0 || f*float64(mult) >= 1<<63 {
		return 0, fmt.Errorf("invalid size: %q: out of range", str)
	}
	return int64(f * float64(mult)), nil
}

// SizeFlag is a pflag.Value for byte counts, accepting the syntax of
// ParseIEC.  Values below Min are rejected.
type SizeFlag struct {
	Size int64
	Min  int64
}

var _ pflag.Value = (*SizeFlag)(nil)

// Type implements pflag.Value.
func (*SizeFlag) Type() string { return "size" }

// Set implements pflag.Value.
func (sz *SizeFlag) Set(str string) error {
	n, err := ParseIEC(str)
	if err != nil {
		return err
	}
	if n < sz.Min {
		return fmt.Errorf("invalid size: %q: must be at least %v", str, IEC(sz.Min, "B"))
	}
	sz.Size = n
	return nil
}

// String implements pflag.Value.
func (sz *SizeFlag) String() string {
	for _, s := range sizeSuffixes {
		if sz.Size != 0 && sz.Size%s.Mult == 0 {
			return strconv.FormatInt(sz.Size/s.Mult, 10) + s.Suffix
		}
	}
	return "0"
}
