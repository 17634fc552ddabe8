// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"sync/atomic"

	"github.com/gomlx/filtergrad/types/xsync"
	"k8s.io/klog/v2"
)

// QueryCache memoizes the results of an expensive and pure query, keyed by a comparable key.
//
// Concurrent misses for the same key may compute the value more than once; the first value stored wins
// and is returned to everyone. Values become visible atomically, and errors are never cached.
// No lock is held while the query runs.
type QueryCache[K comparable, V any] struct {
	name         string
	entries      xsync.SyncMap[K, V]
	hits, misses atomic.Int64
}

// CacheStats are counters of a QueryCache.
type CacheStats struct {
	Hits, Misses int64
	Entries      int
}

// NewQueryCache creates an empty cache. The name is only used for logging.
func NewQueryCache[K comparable, V any](name string) *QueryCache[K, V] {
	return &QueryCache[K, V]{name: name}
}

// GetOrCompute returns the cached value for key, or calls query and caches its result.
func (c *QueryCache[K, V]) GetOrCompute(key K, query func() (V, error)) (V, error) {
	if value, found := c.entries.Load(key); found {
		c.hits.Add(1)
		if klog.V(2).Enabled() {
			klog.Infof("%s: cache hit for %v", c.name, key)
		}
		return value, nil
	}
	c.misses.Add(1)
	value, err := query()
	if err != nil {
		var zero V
		return zero, err
	}
	actual, loaded := c.entries.LoadOrStore(key, value)
	if !loaded {
		klog.V(1).Infof("%s: cached new entry", c.name)
	}
	return actual, nil
}

// Lookup returns the cached value for key, without querying.
func (c *QueryCache[K, V]) Lookup(key K) (V, bool) {
	return c.entries.Load(key)
}

// Stats returns the current counters.
func (c *QueryCache[K, V]) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.entries.Len()}
}

// Reset drops all entries and counters.
//
// Cached entries are otherwise kept for the lifetime of the process: this is the hook for callers
// that know the external library's answers changed (e.g. after a driver reset).
func (c *QueryCache[K, V]) Reset() {
	c.entries.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
}
