// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ChannelwiseAlgorithmName is the name of ChannelwiseAlgorithm.
const ChannelwiseAlgorithmName = "CHANNEL_WISE"

// ChannelwiseAlgorithm handles depthwise convolutions (one input channel per group), accumulating each
// filter-gradient element directly from src and diff, without workspace.
type ChannelwiseAlgorithm struct {
	algoBase
}

var _ Algorithm = (*ChannelwiseAlgorithm)(nil)

// NewChannelwiseAlgorithm creates the channel-wise algorithm.
func NewChannelwiseAlgorithm() *ChannelwiseAlgorithm {
	return &ChannelwiseAlgorithm{}
}

// Name implements Algorithm.
func (c *ChannelwiseAlgorithm) Name() string { return ChannelwiseAlgorithmName }

// IsReproducible implements Algorithm.
func (c *ChannelwiseAlgorithm) IsReproducible() bool { return true }

// IsAvailable implements Algorithm: NCHW depthwise problems (group count equal to the number of input
// channels, any channel multiplier) without dilation or flipping.
func (c *ChannelwiseAlgorithm) IsAvailable(d *Descriptor) bool {
	fm := d.grad
	return fm.Format == FormatNCHW &&
		d.SameDTypes() && isLocalDType(fm.DType) &&
		fm.ICPG == 1 && fm.Group == fm.InputChannels() &&
		fm.Dilation == [2]int{1, 1} &&
		!fm.ShouldFlip
}

// WorkspaceInBytes implements Algorithm. It is always 0.
func (c *ChannelwiseAlgorithm) WorkspaceInBytes(d *Descriptor) (uint64, error) {
	if !c.IsAvailable(d) {
		contractViolationf(ChannelwiseAlgorithmName, "workspace requested for a problem it can't execute: %s", d)
	}
	return 0, nil
}

// Exec implements Algorithm.
func (c *ChannelwiseAlgorithm) Exec(args *ExecArgs) error {
	d := args.Descriptor
	if !c.IsAvailable(d) {
		contractViolationf(ChannelwiseAlgorithmName, "exec called for a problem it can't execute: %s", d)
	}
	switch d.grad.DType {
	case dtypes.Float32:
		execChannelwise(d, FlatAs[float32](args.SrcData), FlatAs[float32](args.DiffData), FlatAs[float32](args.GradData),
			identity[float32], identity[float32])
	case dtypes.Float64:
		execChannelwise(d, FlatAs[float64](args.SrcData), FlatAs[float64](args.DiffData), FlatAs[float64](args.GradData),
			identity[float64], identity[float64])
	case dtypes.Float16:
		execChannelwise(d, FlatAs[float16.Float16](args.SrcData), FlatAs[float16.Float16](args.DiffData),
			FlatAs[float16.Float16](args.GradData), float16ToFloat32, float32ToFloat16)
	}
	return nil
}

// validRange returns the output positions [begin, end) for which tap lands inside the input:
// 0 <= o*stride - padding + tap < inputDim.
func validRange(tap, stride, padding, inputDim, outputDim int) (begin, end int) {
	// Smallest o with o*stride >= padding - tap.
	low := padding - tap
	if low > 0 {
		begin = (low + stride - 1) / stride
	}
	// Largest o with o*stride <= inputDim - 1 + padding - tap.
	high := inputDim - 1 + padding - tap
	if high < 0 {
		return begin, begin
	}
	end = min(high/stride+1, outputDim)
	if end < begin {
		end = begin
	}
	return
}

func execChannelwise[S any, T constraints.Float](d *Descriptor, src, diff, grad []S, load func(S) T, store func(T) S) {
	fm := d.grad
	filterH, filterW := fm.Spatial[0], fm.Spatial[1]
	in := d.InputSpatial()
	out := d.OutputSpatial()
	srcStrides, diffStrides := d.src.Strides, d.diff.Strides
	for g := range fm.Group {
		for m := range fm.OCPG {
			oc := g*fm.OCPG + m
			gradBase := oc * filterH * filterW
			for fh := range filterH {
				beginY, endY := validRange(fh, fm.Stride[0], fm.Padding[0], in[0], out[0])
				for fw := range filterW {
					beginX, endX := validRange(fw, fm.Stride[1], fm.Padding[1], in[1], out[1])
					var sum T
					for n := range d.BatchSize() {
						srcChannel := n*srcStrides[0] + g*srcStrides[1]
						diffChannel := n*diffStrides[0] + oc*diffStrides[1]
						for oy := beginY; oy < endY; oy++ {
							y := oy*fm.Stride[0] - fm.Padding[0] + fh
							srcRow := srcChannel + y*srcStrides[2]
							diffRow := diffChannel + oy*diffStrides[2]
							for ox := beginX; ox < endX; ox++ {
								x := ox*fm.Stride[1] - fm.Padding[1] + fw
								sum += load(diff[diffRow+ox*diffStrides[3]]) * load(src[srcRow+x*srcStrides[3]])
							}
						}
					}
					grad[gradBase+fh*filterW+fw] = store(sum)
				}
			}
		}
	}
}
