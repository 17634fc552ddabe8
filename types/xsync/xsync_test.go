// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMap(t *testing.T) {
	var m SyncMap[string, int]
	_, found := m.Load("a")
	require.False(t, found)

	actual, loaded := m.LoadOrStore("a", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, actual)
	v, found := m.Load("a")
	require.True(t, found)
	require.Equal(t, 1, v)

	actual, loaded = m.LoadOrStore("a", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, actual)
	actual, loaded = m.LoadOrStore("b", 2)
	assert.False(t, loaded)
	assert.Equal(t, 2, actual)
	assert.Equal(t, 2, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestSyncMapConcurrentLoadOrStore(t *testing.T) {
	var m SyncMap[int, *int]
	const numGoroutines = 32
	results := make([]*int, numGoroutines)
	var wg sync.WaitGroup
	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value := i
			results[i], _ = m.LoadOrStore(0, &value)
		}()
	}
	wg.Wait()
	for _, r := range results {
		require.Same(t, results[0], r, "all goroutines must observe the same stored value")
	}
}
