// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter_test

import (
	"math"
	"math/rand/v2"
	"testing"

	. "github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/gomlx/filtergrad/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// testProblem describes an NCHW problem. Group > 1 uses SparseGroup filters.
type testProblem struct {
	N, C, H, W    int
	OC, Group     int
	FH, FW        int
	Stride, Pad   int
	Dilation      int
	Flip          bool
	DType         dtypes.DType
	StridedDiff   bool // Diff padded in its last axis, so it is not contiguous.
	ComputeMode32 bool
}

func outputDim(input, filter, stride, padding, dilation int) int {
	return (input+2*padding-dilation*(filter-1)-1)/stride + 1
}

func (tp testProblem) descriptor(t *testing.T) *Descriptor {
	param := DefaultParam()
	param.StrideH, param.StrideW = tp.Stride, tp.Stride
	param.PadH, param.PadW = tp.Pad, tp.Pad
	param.DilateH, param.DilateW = tp.Dilation, tp.Dilation
	if tp.Flip {
		param.Mode = ModeConvolution
	}
	if tp.ComputeMode32 {
		param.ComputeMode = ComputeModeFloat32
	}
	oh := outputDim(tp.H, tp.FH, tp.Stride, tp.Pad, tp.Dilation)
	ow := outputDim(tp.W, tp.FW, tp.Stride, tp.Pad, tp.Dilation)
	src := shapes.Make(tp.DType, tp.N, tp.C, tp.H, tp.W)
	var diff shapes.Layout
	if tp.StridedDiff {
		rowStride := ow + 3
		diff = shapes.MakeStrided(tp.DType, []int{tp.N, tp.OC, oh, ow},
			[]int{tp.OC * oh * rowStride, oh * rowStride, rowStride, 1})
	} else {
		diff = shapes.Make(tp.DType, tp.N, tp.OC, oh, ow)
	}
	var grad shapes.Layout
	if tp.Group <= 1 {
		grad = shapes.Make(tp.DType, tp.OC, tp.C, tp.FH, tp.FW)
	} else {
		param.Sparse = SparseGroup
		grad = shapes.Make(tp.DType, tp.Group, tp.OC/tp.Group, tp.C/tp.Group, tp.FH, tp.FW)
	}
	d, err := NewDescriptor(param, src, diff, grad)
	require.NoError(t, err)
	return d
}

// testData holds the buffers of a problem, and the values they hold in float64.
type testData struct {
	d                     *Descriptor
	srcValues, diffValues []float64
	src, diff             any
}

// randomValues returns n multiples of 1/8 in [-1, 1], exactly representable in every float dtype.
func randomValues(rng *rand.Rand, n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(rng.IntN(17)-8) / 8
	}
	return values
}

func toBuffer(dtype dtypes.DType, values []float64) any {
	switch dtype {
	case dtypes.Float32:
		flat := make([]float32, len(values))
		for i, v := range values {
			flat[i] = float32(v)
		}
		return flat
	case dtypes.Float64:
		return append([]float64(nil), values...)
	case dtypes.Float16:
		flat := make([]float16.Float16, len(values))
		for i, v := range values {
			flat[i] = float16.Fromfloat32(float32(v))
		}
		return flat
	}
	panic("unsupported dtype in test")
}

func toFloat64(buffer any) []float64 {
	switch flat := buffer.(type) {
	case []float32:
		values := make([]float64, len(flat))
		for i, v := range flat {
			values[i] = float64(v)
		}
		return values
	case []float64:
		return flat
	case []float16.Float16:
		values := make([]float64, len(flat))
		for i, v := range flat {
			values[i] = float64(v.Float32())
		}
		return values
	}
	panic("unsupported buffer in test")
}

func newTestData(t *testing.T, tp testProblem, seed uint64) *testData {
	d := tp.descriptor(t)
	rng := rand.New(rand.NewPCG(seed, 0))
	data := &testData{d: d}
	data.srcValues = randomValues(rng, d.Src().Span())
	data.diffValues = randomValues(rng, d.Diff().Span())
	data.src = toBuffer(tp.DType, data.srcValues)
	data.diff = toBuffer(tp.DType, data.diffValues)
	return data
}

// reference computes the filter gradient in float64, directly from the definition of the forward convolution.
func (data *testData) reference() []float64 {
	d := data.d
	fm := d.Filter()
	in, out := d.InputSpatial(), d.OutputSpatial()
	srcStrides, diffStrides := d.Src().Strides, d.Diff().Strides
	grad := make([]float64, fm.Size())
	idx := 0
	for g := range fm.Group {
		for m := range fm.OCPG {
			oc := g*fm.OCPG + m
			for ci := range fm.ICPG {
				c := g*fm.ICPG + ci
				for fh := range fm.Spatial[0] {
					for fw := range fm.Spatial[1] {
						tapH, tapW := fh, fw
						if fm.ShouldFlip {
							tapH, tapW = fm.Spatial[0]-1-fh, fm.Spatial[1]-1-fw
						}
						var sum float64
						for n := range d.BatchSize() {
							for oy := range out[0] {
								y := oy*fm.Stride[0] - fm.Padding[0] + tapH*fm.Dilation[0]
								if y < 0 || y >= in[0] {
									continue
								}
								for ox := range out[1] {
									x := ox*fm.Stride[1] - fm.Padding[1] + tapW*fm.Dilation[1]
									if x < 0 || x >= in[1] {
										continue
									}
									sum += data.diffValues[n*diffStrides[0]+oc*diffStrides[1]+oy*diffStrides[2]+ox*diffStrides[3]] *
										data.srcValues[n*srcStrides[0]+c*srcStrides[1]+y*srcStrides[2]+x*srcStrides[3]]
								}
							}
						}
						grad[idx] = sum
						idx++
					}
				}
			}
		}
	}
	return grad
}

// run executes algo with a freshly allocated workspace of exactly the required size, and returns the
// gradient buffer.
func (data *testData) run(t *testing.T, algo Algorithm) any {
	require.True(t, algo.IsAvailable(data.d), "%s should be available for %s", algo.Name(), data.d)
	size, err := algo.WorkspaceInBytes(data.d)
	require.NoError(t, err)
	grad := toBuffer(data.d.Filter().DType, make([]float64, data.d.Filter().Size()))
	args := NewExecArgs(data.d, data.src, data.diff, grad, make([]byte, size))
	require.NoError(t, algo.Exec(args))
	return grad
}

// requireClose checks got against want, with a tolerance relative to the dtype precision.
func requireClose(t *testing.T, dtype dtypes.DType, want []float64, got any) {
	values := toFloat64(got)
	require.Len(t, values, len(want))
	relTolerance := 1e-5
	if dtype == dtypes.Float16 {
		relTolerance = 2e-3
	}
	for i := range want {
		tolerance := relTolerance * max(1, math.Abs(want[i]))
		require.InDelta(t, want[i], values[i], tolerance, "element %d", i)
	}
}
