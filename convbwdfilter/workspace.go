// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"unsafe"
)

// workspaceAlignment of each chunk of a workspaceBundle, in bytes.
const workspaceAlignment = 64

// workspaceBundle splits one workspace into aligned chunks of the given sizes (in bytes).
//
// Its total size includes the slack needed to align the first chunk, so any []byte of at least
// totalSize bytes works, regardless of the alignment of its first element.
type workspaceBundle struct {
	sizes []uint64
}

func alignUp(size uint64) uint64 {
	return (size + workspaceAlignment - 1) / workspaceAlignment * workspaceAlignment
}

// totalSize in bytes required by the bundle. It's 0 if all chunks are empty.
func (b workspaceBundle) totalSize() uint64 {
	var total uint64
	for _, size := range b.sizes {
		total += alignUp(size)
	}
	if total == 0 {
		return 0
	}
	return total + workspaceAlignment
}

// split the workspace into the aligned chunks. The workspace must have at least totalSize bytes.
func (b workspaceBundle) split(workspace []byte) [][]byte {
	chunks := make([][]byte, len(b.sizes))
	if b.totalSize() == 0 {
		return chunks
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(workspace)))
	offset := uint64((workspaceAlignment - base%workspaceAlignment) % workspaceAlignment)
	for i, size := range b.sizes {
		chunks[i] = workspace[offset : offset+size : offset+size]
		offset += alignUp(size)
	}
	return chunks
}

// viewAs reinterprets an aligned chunk of workspace as a slice of n elements of T.
func viewAs[T any](chunk []byte, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	if uintptr(len(chunk)) < uintptr(n)*unsafe.Sizeof(zero) {
		contractViolationf("workspace", "chunk of %d bytes can't hold %d elements of %T", len(chunk), n, zero)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(chunk))), n)
}

// WorkspaceSize returns the workspace, in bytes, needed to hold aligned chunks of the given sizes.
// It is meant for Library implementations, and matches SplitWorkspace.
func WorkspaceSize(chunkSizes ...uint64) uint64 {
	return workspaceBundle{sizes: chunkSizes}.totalSize()
}

// SplitWorkspace splits workspace into aligned chunks of the given sizes. The workspace must have at least
// WorkspaceSize(chunkSizes...) bytes.
func SplitWorkspace(workspace []byte, chunkSizes ...uint64) [][]byte {
	bundle := workspaceBundle{sizes: chunkSizes}
	if total := bundle.totalSize(); uint64(len(workspace)) < total {
		contractViolationf("workspace", "required workspace %d bytes, got %d", total, len(workspace))
	}
	return bundle.split(workspace)
}

// WorkspaceAs reinterprets a chunk returned by SplitWorkspace as n elements of T.
func WorkspaceAs[T any](chunk []byte, n int) []T {
	return viewAs[T](chunk, n)
}
