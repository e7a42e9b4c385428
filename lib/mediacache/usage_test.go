// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestUsageOldestWeighting uses six entries A-F, used in that order,
// whose use counts put them in the order C, E, D, F, A, B.
func TestUsageOldestWeighting(t *testing.T) {
	t.Parallel()
	idx := newUsageIndex()
	base := time.Unix(1000, 0)
	counts := map[string]int{"C": 1, "E": 2, "D": 3, "F": 4, "A": 5, "B": 6}
	for i, key := range []string{"A", "B", "C", "D", "E", "F"} {
		idx.Entries[key] = &usageRecord{
			Key:      key,
			LastUsed: base.Add(time.Duration(i) * time.Second),
			Count:    counts[key],
		}
	}
	// time weight 2, use weight 1:
	//	A: 1*2 + 5 = 7
	//	B: 2*2 + 6 = 10
	//	C: 3*2 + 1 = 7
	//	D: 4*2 + 3 = 11
	//	E: 5*2 + 2 = 12
	//	F: 6*2 + 4 = 16
	// A and C tie; the stable sort keeps the count order, where C
	// comes first.
	victim, ok := idx.Oldest(nil)
	assert.True(t, ok)
	assert.Equal(t, "C", victim.Key)

	// Excluding C leaves A.
	victim, ok = idx.Oldest(func(key string) bool { return key == "C" })
	assert.True(t, ok)
	assert.Equal(t, "A", victim.Key)

	// With only use counts mattering, the least-used loses.
	idx.SetWeights(0, 1)
	victim, _ = idx.Oldest(func(key string) bool { return key == "C" })
	assert.Equal(t, "E", victim.Key)

	// With only time mattering, the least recent loses.
	idx.SetWeights(1, 0)
	victim, _ = idx.Oldest(nil)
	assert.Equal(t, "A", victim.Key)
}

func TestUsageUse(t *testing.T) {
	t.Parallel()
	idx := newUsageIndex()
	now := time.Unix(1000, 0)
	idx.Use("a", "http://example.com/a.mp4", now)
	idx.Use("b", "", now.Add(time.Second))
	idx.Use("a", "", now.Add(2*time.Second))
	assert.Equal(t, 2, idx.Entries["a"].Count)
	assert.Equal(t, "http://example.com/a.mp4", idx.Entries["a"].Origin)
	assert.Equal(t, now.Add(2*time.Second), idx.Entries["a"].LastUsed)

	victim, ok := idx.Oldest(nil)
	assert.True(t, ok)
	assert.Equal(t, "b", victim.Key)

	idx.Retain(func(key string) bool { return key == "b" })
	assert.Len(t, idx.Entries, 1)
	idx.Delete("b")
	_, ok = idx.Oldest(nil)
	assert.False(t, ok)
}

func TestUsageSnapshotIsIndependent(t *testing.T) {
	t.Parallel()
	idx := newUsageIndex()
	idx.Use("a", "", time.Unix(1, 0))
	snap := idx.snapshot()
	idx.Use("a", "", time.Unix(2, 0))
	assert.Equal(t, 1, snap.Entries["a"].Count)
	assert.Equal(t, 2, idx.Entries["a"].Count)
}
