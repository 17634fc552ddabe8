// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter_test

import (
	"sync"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/filtergrad/backends/stub"
	. "github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fastSub = SubAlgorithm{ID: 7, Name: "FAST", Deterministic: false}
	slowSub = SubAlgorithm{ID: 3, Name: "SLOW", Deterministic: true}
)

func vendorTestProblem() testProblem {
	return testProblem{N: 2, C: 4, H: 6, W: 6, OC: 4, FH: 3, FW: 3, Stride: 1, Pad: 1, Dilation: 1,
		DType: dtypes.Float32}
}

func TestVendorQueriesOnce(t *testing.T) {
	lib := stub.New(fastSub, slowSub)
	lib.Workspace = func(_ *Descriptor, sub SubAlgorithm) uint64 { return uint64(100 + sub.ID) }
	vendor := NewVendorAlgorithm(lib, false)
	require.Equal(t, VendorAlgorithmName+":"+stub.LibraryName, vendor.Name())
	require.True(t, vendor.IsVendorBacked())
	require.False(t, vendor.IsReproducible())

	// Two descriptors built independently for the same problem share the cache entries.
	d0 := vendorTestProblem().descriptor(t)
	d1 := vendorTestProblem().descriptor(t)
	for _, d := range []*Descriptor{d0, d1, d0} {
		require.True(t, vendor.IsAvailable(d))
		size, err := vendor.WorkspaceInBytes(d)
		require.NoError(t, err)
		require.Equal(t, uint64(107), size)
	}
	assert.Equal(t, int64(1), lib.FindCalls())
	assert.Equal(t, int64(1), lib.WorkspaceCalls())

	// Exec reuses the cached answers.
	data := newTestData(t, vendorTestProblem(), 1)
	_ = data.run(t, vendor)
	assert.Equal(t, int64(1), lib.FindCalls())
	assert.Equal(t, int64(1), lib.WorkspaceCalls())
	assert.Equal(t, int64(1), lib.ExecCalls())
	last, ok := lib.LastExec()
	require.True(t, ok)
	assert.Equal(t, fastSub, last)

	subs, workspaces := vendor.CacheStats()
	assert.Equal(t, 1, subs.Entries)
	assert.Equal(t, 1, workspaces.Entries)

	// A different problem is a new query.
	other := vendorTestProblem()
	other.Pad = 0
	require.True(t, vendor.IsAvailable(other.descriptor(t)))
	assert.Equal(t, int64(2), lib.FindCalls())

	vendor.ResetCaches()
	require.True(t, vendor.IsAvailable(d0))
	assert.Equal(t, int64(3), lib.FindCalls())
}

func TestVendorConcurrentQueries(t *testing.T) {
	lib := stub.New(slowSub)
	lib.Workspace = func(*Descriptor, SubAlgorithm) uint64 { return 256 }
	vendor := NewVendorAlgorithm(lib, true)
	d := vendorTestProblem().descriptor(t)

	const numGoroutines = 16
	sizes := make([]uint64, numGoroutines)
	available := make([]bool, numGoroutines)
	errs := make([]error, numGoroutines)
	var wg sync.WaitGroup
	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			available[i] = vendor.IsAvailable(d)
			if available[i] {
				sizes[i], errs[i] = vendor.WorkspaceInBytes(d)
			}
		}()
	}
	wg.Wait()
	for i := range numGoroutines {
		require.True(t, available[i])
		require.NoError(t, errs[i])
		require.Equal(t, uint64(256), sizes[i])
	}
	// Concurrent misses may query more than once, but the cache ends up with one entry.
	require.GreaterOrEqual(t, lib.FindCalls(), int64(1))
	require.LessOrEqual(t, lib.FindCalls(), int64(numGoroutines))
	subs, _ := vendor.CacheStats()
	require.Equal(t, 1, subs.Entries)
}

func TestVendorReproducibleFiltering(t *testing.T) {
	d := vendorTestProblem().descriptor(t)

	reproducible := NewVendorAlgorithm(stub.New(fastSub, slowSub), true)
	require.True(t, reproducible.IsReproducible())
	sub, found, err := reproducible.SubAlgorithm(d)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, slowSub, sub)

	onlyFast := stub.New(fastSub)
	reproducible = NewVendorAlgorithm(onlyFast, true)
	require.False(t, reproducible.IsAvailable(d))
	require.True(t, NewVendorAlgorithm(onlyFast, false).IsAvailable(d))
}

func TestVendorNotAvailable(t *testing.T) {
	d := vendorTestProblem().descriptor(t)

	// No compatible sub-algorithm: not available, and the "none" answer is cached.
	lib := stub.New(slowSub)
	lib.Compatible = func(*Descriptor) bool { return false }
	vendor := NewVendorAlgorithm(lib, true)
	require.False(t, vendor.IsAvailable(d))
	require.False(t, vendor.IsAvailable(d))
	require.Equal(t, int64(1), lib.FindCalls())
	require.False(t, IsAvailableWithin(vendor, d, NoWorkspaceLimit))

	err := exceptions.TryCatch[*ContractError](func() { _, _ = vendor.WorkspaceInBytes(d) })
	require.NotNil(t, err)
	require.Equal(t, vendor.Name(), err.Algorithm)
	require.Zero(t, lib.WorkspaceCalls())

	// Empty library.
	require.False(t, NewVendorAlgorithm(stub.New(), false).IsAvailable(d))
}

func TestVendorLibraryErrors(t *testing.T) {
	d := vendorTestProblem().descriptor(t)
	failure := errors.New("device lost")

	// Errors finding sub-algorithms make it unavailable, and are not cached.
	lib := stub.New(slowSub)
	lib.FindErr = failure
	vendor := NewVendorAlgorithm(lib, true)
	require.False(t, vendor.IsAvailable(d))
	require.False(t, vendor.IsAvailable(d))
	require.Equal(t, int64(2), lib.FindCalls())
	_, err := vendor.WorkspaceInBytes(d)
	require.ErrorIs(t, err, failure)

	// Errors querying the workspace are returned, and make it unavailable within any limit.
	lib = stub.New(slowSub)
	lib.WorkspaceErr = failure
	vendor = NewVendorAlgorithm(lib, true)
	require.True(t, vendor.IsAvailable(d))
	_, err = vendor.WorkspaceInBytes(d)
	require.ErrorIs(t, err, failure)
	require.False(t, IsAvailableWithin(vendor, d, NoWorkspaceLimit))
	contractErr := exceptions.TryCatch[*ContractError](func() { CheckWorkspace(vendor, d, 1<<20) })
	require.NotNil(t, contractErr)

	// Execution errors are returned wrapped.
	lib = stub.New(slowSub)
	lib.ExecErr = failure
	vendor = NewVendorAlgorithm(lib, true)
	data := newTestData(t, vendorTestProblem(), 2)
	grad := make([]float32, d.Filter().Size())
	err = vendor.Exec(NewExecArgs(data.d, data.src, data.diff, grad, nil))
	require.ErrorIs(t, err, failure)
	require.Contains(t, err.Error(), slowSub.Name)
}

func TestVendorWorkspaceContract(t *testing.T) {
	lib := stub.New(slowSub)
	lib.Workspace = func(*Descriptor, SubAlgorithm) uint64 { return 1024 }
	vendor := NewVendorAlgorithm(lib, true)
	data := newTestData(t, vendorTestProblem(), 5)
	grad := make([]float32, data.d.Filter().Size())

	require.NotPanics(t, func() { CheckWorkspace(vendor, data.d, 1024) })
	err := exceptions.TryCatch[*ContractError](func() {
		_ = vendor.Exec(NewExecArgs(data.d, data.src, data.diff, grad, make([]byte, 1023)))
	})
	require.NotNil(t, err)
	require.Zero(t, lib.ExecCalls())
	require.NoError(t, vendor.Exec(NewExecArgs(data.d, data.src, data.diff, grad, make([]byte, 1024))))
	require.Equal(t, int64(1), lib.ExecCalls())
}

func TestNewVendorAlgorithmNilLibrary(t *testing.T) {
	require.Panics(t, func() { NewVendorAlgorithm(nil, true) })
}
