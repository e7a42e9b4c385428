// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a typed wrapper around a fixed-size least-recently-used
// cache.  A zero LRUCache is not usable; it must be initialized with
// NewLRUCache.
type LRUCache[K comparable, V any] struct {
	inner *lru.Cache
}

// NewLRUCache returns a cache holding at most size entries.  If
// onEvict is non-nil, it is called for each entry that is pushed out
// to make room or that is explicitly removed.  A size <= 0 is treated
// as 1.
func NewLRUCache[K comparable, V any](size int, onEvict func(K, V)) *LRUCache[K, V] {
	if size <= 0 {
		size = 1
	}
	var untypedEvict func(key, value any)
	if onEvict != nil {
		untypedEvict = func(key, value any) {
			//nolint:forcetypeassert // Typed wrapper around untyped lib.
			onEvict(key.(K), value.(V))
		}
	}
	c := new(LRUCache[K, V])
	// lru.NewWithEvict only fails for size <= 0.
	c.inner, _ = lru.NewWithEvict(size, untypedEvict)
	return c
}

func (c *LRUCache[K, V]) Add(key K, value V) {
	c.inner.Add(key, value)
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	_value, ok := c.inner.Get(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

// Keys returns the keys from oldest to newest.
func (c *LRUCache[K, V]) Keys() []K {
	untyped := c.inner.Keys()
	typed := make([]K, len(untyped))
	for i := range untyped {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		typed[i] = untyped[i].(K)
	}
	return typed
}

// Peek is like Get, but does not mark the entry as recently used.
func (c *LRUCache[K, V]) Peek(key K) (value V, ok bool) {
	_value, ok := c.inner.Peek(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

// Purge removes every entry, calling the eviction callback for each.
func (c *LRUCache[K, V]) Purge() {
	c.inner.Purge()
}

func (c *LRUCache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}
