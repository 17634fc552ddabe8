// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"testing"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceBundle(t *testing.T) {
	require.Equal(t, uint64(0), WorkspaceSize())
	require.Equal(t, uint64(0), WorkspaceSize(0, 0))
	require.Equal(t, uint64(64+64), WorkspaceSize(1))
	require.Equal(t, uint64(128+64+64), WorkspaceSize(65, 0, 64))

	sizes := []uint64{12, 0, 100}
	total := WorkspaceSize(sizes...)
	// Try all possible misalignments of the first byte.
	backing := make([]byte, total+workspaceAlignment)
	for shift := range workspaceAlignment {
		ws := backing[shift : shift+int(total)]
		chunks := SplitWorkspace(ws, sizes...)
		require.Len(t, chunks, 3)
		for i, chunk := range chunks {
			require.Len(t, chunk, int(sizes[i]))
			if len(chunk) > 0 {
				addr := uintptr(unsafe.Pointer(unsafe.SliceData(chunk)))
				require.Zero(t, addr%workspaceAlignment, "chunk %d not aligned with shift %d", i, shift)
			}
		}
		floats := WorkspaceAs[float32](chunks[2], 25)
		require.Len(t, floats, 25)
	}
}

func TestSplitWorkspaceTooSmall(t *testing.T) {
	err := exceptions.TryCatch[*ContractError](func() {
		_ = SplitWorkspace(make([]byte, 10), 32)
	})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "required workspace")

	err = exceptions.TryCatch[*ContractError](func() {
		_ = WorkspaceAs[float64](make([]byte, 8), 2)
	})
	require.NotNil(t, err)
}
