// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import "sync"

// SyncMap is a typed wrapper around sync.Map.
//
// As sync.Map, it can be created ready to go, but should not be copied once it is used.
// Stores are atomically visible: a concurrent Load either sees nothing or the complete value.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, and whether it was found.
func (m *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.m.LoadOrStore(key, value)
	return v.(V), loaded
}

// Len counts the entries in the map. It is O(n) and only consistent if there are no concurrent writes.
func (m *SyncMap[K, V]) Len() (count int) {
	m.m.Range(func(_, _ any) bool {
		count++
		return true
	})
	return
}

// Clear removes all key-value pairs from the map.
func (m *SyncMap[K, V]) Clear() {
	m.m.Clear()
}
