// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"github.com/gomlx/filtergrad/internal/gemm"
	"github.com/gomlx/filtergrad/internal/workerspool"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// MatmulAlgorithmName is the name of MatmulAlgorithm.
const MatmulAlgorithmName = "MATMUL"

// MatmulAlgorithm is the generic fallback: for each image it unfolds (im2col) the source into a
// column matrix and accumulates, per group, grad += diff · colᵀ with the local gemm.
//
// Groups of the same image run in parallel, but each filter element is always accumulated in the same
// order, so it is reproducible.
type MatmulAlgorithm struct {
	algoBase
	pool *workerspool.Pool
}

var _ Algorithm = (*MatmulAlgorithm)(nil)

// NewMatmulAlgorithm creates the matmul fallback, running groups with at most maxParallelism goroutines
// (0 disables parallelism, negative values mean unlimited).
func NewMatmulAlgorithm(maxParallelism int) *MatmulAlgorithm {
	return &MatmulAlgorithm{pool: workerspool.New(maxParallelism)}
}

// Name implements Algorithm.
func (m *MatmulAlgorithm) Name() string { return MatmulAlgorithmName }

// MaxParallelism returns the maximum number of goroutines used to run the groups of one image.
func (m *MatmulAlgorithm) MaxParallelism() int { return m.pool.MaxParallelism() }

// IsReproducible implements Algorithm.
func (m *MatmulAlgorithm) IsReproducible() bool { return true }

// IsAvailable implements Algorithm: any NCHW problem of a dtype supported by the local gemm.
func (m *MatmulAlgorithm) IsAvailable(d *Descriptor) bool {
	return d.grad.Format == FormatNCHW && d.SameDTypes() && isLocalDType(d.grad.DType)
}

// diffIsPlain returns whether each image of diff is a contiguous (OC, OH*OW) matrix.
func diffIsPlain(d *Descriptor) bool {
	oh, ow := d.diff.Dimensions[2], d.diff.Dimensions[3]
	strides := d.diff.Strides
	return strides[1] == oh*ow && strides[2] == ow && strides[3] == 1
}

// matmulWorkspace returns the bundle with the column matrix, the (optional) diff copy and the (optional)
// float32 accumulator used for half-precision.
func matmulWorkspace(d *Descriptor) workspaceBundle {
	fm := d.grad
	out := d.OutputSpatial()
	numPositions := uint64(out[0] * out[1])
	elemSize := computeDTypeSize(fm.DType)
	colSize := uint64(fm.InputChannels()*fm.Spatial[0]*fm.Spatial[1]) * numPositions * elemSize
	var diffSize, accSize uint64
	if fm.DType == dtypes.Float16 || !diffIsPlain(d) {
		diffSize = uint64(fm.OutputChannels()) * numPositions * elemSize
	}
	if fm.DType == dtypes.Float16 {
		accSize = uint64(fm.Size()) * elemSize
	}
	return workspaceBundle{sizes: []uint64{colSize, diffSize, accSize}}
}

// WorkspaceInBytes implements Algorithm. It's computed directly, since it's cheap.
func (m *MatmulAlgorithm) WorkspaceInBytes(d *Descriptor) (uint64, error) {
	if !m.IsAvailable(d) {
		contractViolationf(MatmulAlgorithmName, "workspace requested for a problem it can't execute: %s", d)
	}
	return matmulWorkspace(d).totalSize(), nil
}

// Exec implements Algorithm.
func (m *MatmulAlgorithm) Exec(args *ExecArgs) error {
	d := args.Descriptor
	if !m.IsAvailable(d) {
		contractViolationf(MatmulAlgorithmName, "exec called for a problem it can't execute: %s", d)
	}
	bundle := matmulWorkspace(d)
	checkWorkspaceSize(MatmulAlgorithmName, bundle.totalSize(), args.WorkspaceSize())
	chunks := bundle.split(args.Workspace)
	switch d.grad.DType {
	case dtypes.Float32:
		execMatmul(m.pool, d, FlatAs[float32](args.SrcData), FlatAs[float32](args.DiffData), FlatAs[float32](args.GradData),
			chunks, identity[float32], identity[float32])
	case dtypes.Float64:
		execMatmul(m.pool, d, FlatAs[float64](args.SrcData), FlatAs[float64](args.DiffData), FlatAs[float64](args.GradData),
			chunks, identity[float64], identity[float64])
	case dtypes.Float16:
		execMatmul(m.pool, d, FlatAs[float16.Float16](args.SrcData), FlatAs[float16.Float16](args.DiffData),
			FlatAs[float16.Float16](args.GradData), chunks, float16ToFloat32, float32ToFloat16)
	}
	return nil
}

// execMatmul runs the matmul algorithm storing values as S and computing in T.
func execMatmul[S any, T constraints.Float](pool *workerspool.Pool, d *Descriptor, src, diff, grad []S,
	chunks [][]byte, load func(S) T, store func(T) S) {
	fm := d.grad
	filterH, filterW := fm.Spatial[0], fm.Spatial[1]
	out := d.OutputSpatial()
	numPositions := out[0] * out[1]
	rowsPerGroup := fm.ICPG * filterH * filterW // Contracting axis of the filter gradient.
	col := viewAs[T](chunks[0], fm.Group*rowsPerGroup*numPositions)

	var diffCopy []T
	directDiff := len(chunks[1]) == 0
	if !directDiff {
		diffCopy = viewAs[T](chunks[1], fm.OutputChannels()*numPositions)
	}

	var acc []T
	if len(chunks[2]) > 0 {
		acc = viewAs[T](chunks[2], fm.Size())
	} else {
		acc = any(grad).([]T)[:fm.Size()]
	}
	clear(acc)

	diffStrides := d.diff.Strides
	for n := range d.BatchSize() {
		pool.Run(fm.Group, func(g int) {
			colG := col[g*rowsPerGroup*numPositions : (g+1)*rowsPerGroup*numPositions]
			im2col(d, src, n, g, colG, load)

			var diffG []T
			if directDiff {
				start := n*diffStrides[0] + g*fm.OCPG*diffStrides[1]
				diffG = any(diff).([]T)[start : start+fm.OCPG*numPositions]
			} else {
				diffG = diffCopy[g*fm.OCPG*numPositions : (g+1)*fm.OCPG*numPositions]
				gatherDiff(d, diff, n, g, diffG, load)
			}

			accG := acc[g*fm.OCPG*rowsPerGroup : (g+1)*fm.OCPG*rowsPerGroup]
			gemm.MulTransposedB(fm.OCPG, rowsPerGroup, numPositions,
				diffG, numPositions, colG, numPositions, true, accG, rowsPerGroup)
		})
	}

	if len(chunks[2]) > 0 {
		for i, v := range acc {
			grad[i] = store(v)
		}
	}
}
