// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

// Tunable annotates a value as something that might want to be tuned
// as the cache gets used against real workloads (packet sizes, check
// intervals, cache sizes).
func Tunable[T any](x T) T {
	return x
}
