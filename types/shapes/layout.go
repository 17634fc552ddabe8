// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Layout, the dtype, dimensions and strides of a tensor as seen by a
// convolution kernel.
//
// A Layout is a plain value: two layouts are equal if their dtype, dimensions and strides are
// equal. Strides are given in number of elements (not bytes), and the default (see Make) is
// the contiguous row-major layout.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: index of a dimension. We refer to the index as "axis" and to its size as "dimension".
//   - Stride: distance, in elements, between two consecutive indices of an axis.
//   - Span: number of elements one needs to address all positions of the layout, starting
//     at offset 0. For contiguous layouts it's the same as Size.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Layout of a tensor: its dtype, dimensions and strides (in elements).
//
// Use Make or MakeStrided to create a new layout.
type Layout struct {
	DType      dtypes.DType
	Dimensions []int
	Strides    []int
}

// Make returns a contiguous (row-major) Layout with the given dimensions.
// It panics if any dimension is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Layout {
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s, %v): cannot create a layout with an axis with dimension <= 0", dtype, dimensions)
		}
	}
	return Layout{
		DType:      dtype,
		Dimensions: slices.Clone(dimensions),
		Strides:    ContiguousStrides(dimensions),
	}
}

// MakeStrided returns a Layout with explicit strides.
// It panics if the number of strides doesn't match the rank, or if any dimension is <= 0 or any stride < 0.
func MakeStrided(dtype dtypes.DType, dimensions, strides []int) Layout {
	if len(dimensions) != len(strides) {
		exceptions.Panicf("shapes.MakeStrided(%s, %v, %v): rank of dimensions and strides differ", dtype, dimensions, strides)
	}
	for axis, dim := range dimensions {
		if dim <= 0 || strides[axis] < 0 {
			exceptions.Panicf("shapes.MakeStrided(%s, %v, %v): invalid dimension or stride for axis %d",
				dtype, dimensions, strides, axis)
		}
	}
	return Layout{
		DType:      dtype,
		Dimensions: slices.Clone(dimensions),
		Strides:    slices.Clone(strides),
	}
}

// ContiguousStrides returns the row-major strides for the given dimensions.
func ContiguousStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// Ok returns whether this is a valid Layout: a valid dtype, one stride per axis, dimensions > 0 and
// strides >= 0. The zero value Layout{} is invalid.
//
// Layouts built with Make or MakeStrided are always valid, but the fields are exported.
func (l Layout) Ok() bool {
	if l.DType == dtypes.InvalidDType || len(l.Strides) != len(l.Dimensions) {
		return false
	}
	for axis, dim := range l.Dimensions {
		if dim <= 0 || l.Strides[axis] < 0 {
			return false
		}
	}
	return true
}

// Rank of the layout, that is, the number of axes.
func (l Layout) Rank() int { return len(l.Dimensions) }

// Dim returns the dimension of the given axis. Negative axes count from the end.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (l Layout) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += l.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= l.Rank() {
		exceptions.Panicf("Layout.Dim(%d) out-of-bounds for rank %d (layout=%s)", axis, l.Rank(), l)
	}
	return l.Dimensions[adjustedAxis]
}

// Size returns the number of elements addressed by the layout: the product of all dimensions.
func (l Layout) Size() (size int) {
	size = 1
	for _, d := range l.Dimensions {
		size *= d
	}
	return
}

// Span returns the minimum length of a flat buffer that holds every position of the layout.
func (l Layout) Span() int {
	if l.Rank() == 0 {
		return 1
	}
	span := 1
	for axis, dim := range l.Dimensions {
		span += (dim - 1) * l.Strides[axis]
	}
	return span
}

// Memory returns the number of bytes needed to store Size elements of the layout's dtype.
func (l Layout) Memory() uint64 {
	return uint64(l.Size()) * uint64(l.DType.Size())
}

// IsContiguous returns whether the strides are the row-major contiguous ones.
// Axes of dimension 1 are ignored, since their stride is never used.
func (l Layout) IsContiguous() bool {
	want := ContiguousStrides(l.Dimensions)
	for axis, dim := range l.Dimensions {
		if dim != 1 && l.Strides[axis] != want[axis] {
			return false
		}
	}
	return true
}

// Equal compares dtype, dimensions and strides.
func (l Layout) Equal(other Layout) bool {
	return l.DType == other.DType &&
		slices.Equal(l.Dimensions, other.Dimensions) &&
		slices.Equal(l.Strides, other.Strides)
}

// Clone returns a deep copy of the layout.
func (l Layout) Clone() Layout {
	return Layout{
		DType:      l.DType,
		Dimensions: slices.Clone(l.Dimensions),
		Strides:    slices.Clone(l.Strides),
	}
}

// String implements fmt.Stringer. Strides are only printed if the layout is not contiguous.
func (l Layout) String() string {
	if !l.IsContiguous() {
		return fmt.Sprintf("(%s)%v{strides=%v}", l.DType, l.Dimensions, l.Strides)
	}
	return fmt.Sprintf("(%s)%v", l.DType, l.Dimensions)
}
