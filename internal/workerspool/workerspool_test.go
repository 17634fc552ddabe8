// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRun(t *testing.T) {
	for _, parallelism := range []int{-1, 0, 1, 3} {
		pool := New(parallelism)
		const n = 17
		var visited [n]atomic.Int32
		pool.Run(n, func(i int) { visited[i].Add(1) })
		for i := range n {
			require.Equalf(t, int32(1), visited[i].Load(), "parallelism=%d, index %d", parallelism, i)
		}
	}
}

func TestPoolRespectsParallelism(t *testing.T) {
	pool := New(2)
	var running, maxRunning atomic.Int32
	pool.Run(10, func(_ int) {
		current := running.Add(1)
		for {
			previous := maxRunning.Load()
			if current <= previous || maxRunning.CompareAndSwap(previous, current) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
	})
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
	assert.Equal(t, int32(0), running.Load())
}

func TestPoolRunIsJoined(t *testing.T) {
	pool := New(4)
	var finished atomic.Int32
	pool.Run(8, func(_ int) {
		time.Sleep(time.Millisecond)
		finished.Add(1)
	})
	// Run must only return after all tasks completed.
	require.Equal(t, int32(8), finished.Load())
	require.True(t, pool.IsEnabled())
	require.False(t, pool.IsUnlimited())
	require.Equal(t, 4, pool.MaxParallelism())
}
