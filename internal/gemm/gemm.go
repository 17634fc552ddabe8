// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm implements the small, portable, matrix multiplication used by the local (non-vendor)
// convolution algorithms.
//
// Matrices are row-major, addressed by a flat slice and a leading dimension (the stride between rows).
// The accumulation order is fixed, so results are bit-identical across runs.
package gemm

import (
	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// MulTransposedB computes output[m, n] (+)= lhs[m, k] · rhs[n, k]ᵀ.
//
// Both operands are traversed along their rows (the contracting axis is the last one in both), which is
// the natural layout for the im2col products of the backward-filter convolution.
// If accumulate is false the output is overwritten, otherwise the product is added to it.
func MulTransposedB[T constraints.Float](lhsCrossSize, rhsCrossSize, contractingSize int,
	lhsFlat []T, lhsStride int, rhsFlat []T, rhsStride int,
	accumulate bool, outputFlat []T, outputStride int) {
	if lhsCrossSize == 0 || rhsCrossSize == 0 {
		return
	}
	if lhsStride < contractingSize || rhsStride < contractingSize || outputStride < rhsCrossSize {
		exceptions.Panicf("gemm.MulTransposedB: invalid strides (lhs=%d, rhs=%d, output=%d) for m=%d, n=%d, k=%d",
			lhsStride, rhsStride, outputStride, lhsCrossSize, rhsCrossSize, contractingSize)
	}
	for m := range lhsCrossSize {
		lhsRow := lhsFlat[m*lhsStride : m*lhsStride+contractingSize]
		outputRow := outputFlat[m*outputStride : m*outputStride+rhsCrossSize]
		for n := range rhsCrossSize {
			rhsRow := rhsFlat[n*rhsStride : n*rhsStride+contractingSize]
			sum := dot(lhsRow, rhsRow)
			if accumulate {
				outputRow[n] += sum
			} else {
				outputRow[n] = sum
			}
		}
	}
}

// dot product of two slices of the same length, unrolled by 4 with a fixed summation order.
func dot[T constraints.Float](lhs, rhs []T) T {
	rhs = rhs[:len(lhs)]
	var sum0, sum1, sum2, sum3 T
	k := 0
	for ; k+3 < len(lhs); k += 4 {
		sum0 += lhs[k] * rhs[k]
		sum1 += lhs[k+1] * rhs[k+1]
		sum2 += lhs[k+2] * rhs[k+2]
		sum3 += lhs[k+3] * rhs[k+3]
	}
	for ; k < len(lhs); k++ {
		sum0 += lhs[k] * rhs[k]
	}
	return (sum0 + sum1) + (sum2 + sum3)
}
