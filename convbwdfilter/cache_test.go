// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestQueryCache(t *testing.T) {
	cache := NewQueryCache[string, int]("test")
	var calls int
	query := func() (int, error) {
		calls++
		return 42, nil
	}
	for range 3 {
		v, err := cache.GetOrCompute("a", query)
		require.NoError(t, err)
		require.Equal(t, 42, v)
	}
	require.Equal(t, 1, calls)
	require.Equal(t, CacheStats{Hits: 2, Misses: 1, Entries: 1}, cache.Stats())

	v, found := cache.Lookup("a")
	require.True(t, found)
	require.Equal(t, 42, v)
	_, found = cache.Lookup("b")
	require.False(t, found)

	// Errors are not cached.
	failure := errors.New("transient")
	_, err := cache.GetOrCompute("b", func() (int, error) { return 0, failure })
	require.ErrorIs(t, err, failure)
	v, err = cache.GetOrCompute("b", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)

	cache.Reset()
	require.Equal(t, CacheStats{}, cache.Stats())
	_, err = cache.GetOrCompute("a", query)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestQueryCacheConcurrent(t *testing.T) {
	cache := NewQueryCache[int, *int]("concurrent")
	var calls atomic.Int32
	const numGoroutines = 32
	results := make([]*int, numGoroutines)
	errs := make([]error, numGoroutines)
	var wg sync.WaitGroup
	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrCompute(0, func() (*int, error) {
				calls.Add(1)
				value := int(calls.Load())
				return &value, nil
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, calls.Load(), int32(1))
	// Everyone sees the same stored value.
	for _, v := range results {
		require.Same(t, results[0], v)
	}
	require.Equal(t, 1, cache.Stats().Entries)
}
