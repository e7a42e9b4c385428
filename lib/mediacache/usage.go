// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// usageRecord is what usageIndex knows about one entry.
type usageRecord struct {
	Key      string    `json:"key"`
	Origin   string    `json:"origin"`
	LastUsed time.Time `json:"lastUsed"`
	Count    int       `json:"count"`
}

// usageIndex chooses which entry to evict.  Each candidate is ranked
// twice, once by how recently it was used and once by how often; its
// score is rank-by-time times TimeWeight plus rank-by-count times
// UseWeight, ranks starting at 1, and the lowest score loses.
//
// A usageIndex is safe for concurrent use.
type usageIndex struct {
	mu sync.Mutex

	TimeWeight int                     `json:"timeWeight"`
	UseWeight  int                     `json:"useWeight"`
	Entries    map[string]*usageRecord `json:"entries"`
}

const (
	defaultTimeWeight = 2
	defaultUseWeight  = 1
)

func newUsageIndex() *usageIndex {
	return &usageIndex{
		TimeWeight: defaultTimeWeight,
		UseWeight:  defaultUseWeight,
		Entries:    make(map[string]*usageRecord),
	}
}

func (idx *usageIndex) Weights() (timeWeight, useWeight int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.TimeWeight, idx.UseWeight
}

func (idx *usageIndex) SetWeights(timeWeight, useWeight int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.TimeWeight = timeWeight
	idx.UseWeight = useWeight
}

// Use records a use of the entry at the given time.
func (idx *usageIndex) Use(key, origin string, now time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if rec, ok := idx.Entries[key]; ok {
		rec.LastUsed = now
		rec.Count++
		return
	}
	idx.Entries[key] = &usageRecord{
		Key:      key,
		Origin:   origin,
		LastUsed: now,
		Count:    1,
	}
}

func (idx *usageIndex) Delete(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.Entries, key)
}

// Retain drops every entry for which keep returns false.
func (idx *usageIndex) Retain(keep func(key string) bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key := range idx.Entries {
		if !keep(key) {
			delete(idx.Entries, key)
		}
	}
}

// Oldest returns the eviction victim among the entries for which
// exclude returns false.
func (idx *usageIndex) Oldest(exclude func(key string) bool) (usageRecord, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cands := make([]*usageRecord, 0, len(idx.Entries))
	for key, rec := range idx.Entries {
		if exclude != nil && exclude(key) {
			continue
		}
		cands = append(cands, rec)
	}
	switch len(cands) {
	case 0:
		return usageRecord{}, false
	case 1:
		return *cands[0], true
	}
	// Break ties by key so that the result does not depend on map
	// iteration order.
	slices.SortFunc(cands, func(a, b *usageRecord) bool {
		return a.Key < b.Key
	})

	weight := make(map[*usageRecord]int, len(cands))
	slices.SortStableFunc(cands, func(a, b *usageRecord) bool {
		return a.LastUsed.Before(b.LastUsed)
	})
	for i, rec := range cands {
		weight[rec] += (i + 1) * idx.TimeWeight
	}
	slices.SortStableFunc(cands, func(a, b *usageRecord) bool {
		return a.Count < b.Count
	})
	for i, rec := range cands {
		weight[rec] += (i + 1) * idx.UseWeight
	}
	slices.SortStableFunc(cands, func(a, b *usageRecord) bool {
		return weight[a] < weight[b]
	})
	return *cands[0], true
}

// snapshot returns a copy that is safe to encode while idx keeps
// changing.
func (idx *usageIndex) snapshot() *usageIndex {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ret := &usageIndex{
		TimeWeight: idx.TimeWeight,
		UseWeight:  idx.UseWeight,
		Entries:    make(map[string]*usageRecord, len(idx.Entries)),
	}
	for key, rec := range idx.Entries {
		recCopy := *rec
		ret.Entries[key] = &recCopy
	}
	return ret
}
