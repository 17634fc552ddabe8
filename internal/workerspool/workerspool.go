// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-limited pool of goroutines for the CPU algorithms.
//
// Tasks never outlive the call that scheduled them: Run only returns after all its tasks finished.
package workerspool

import (
	"sync"
)

// Pool limits the number of goroutines running tasks concurrently.
// A Pool can be shared by concurrent callers.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the given parallelism.
// If maxParallelism is 0 tasks run inline, if negative parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the configured parallelism.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	return w.numRunning >= w.maxParallelism
}

// waitToStart waits until there is a worker available and runs task in a goroutine.
// done is called when the task finishes.
func (w *Pool) waitToStart(task func(), done func()) {
	if w.IsUnlimited() {
		go func() {
			defer done()
			task()
		}()
		return
	}
	w.mu.Lock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	w.mu.Unlock()
	go func() {
		defer done()
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// Run calls fn(i) for i in [0, n), in parallel as allowed by the pool, and waits for all calls to finish.
//
// If the pool is disabled, or there is only one task, everything runs inline in the calling goroutine.
// Each fn(i) must only write to memory not touched by the other indices.
func (w *Pool) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if !w.IsEnabled() || n == 1 {
		for i := range n {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		w.waitToStart(func() { fn(i) }, wg.Done)
	}
	wg.Wait()
}
