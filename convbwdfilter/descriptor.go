// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"fmt"

	"github.com/gomlx/filtergrad/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// FilterMeta is the canonized description of the filter (and of its gradient), independent of
// whether the operator was configured as dense or grouped.
//
// It is a comparable value.
type FilterMeta struct {
	DType  dtypes.DType
	Format Format

	// Group is the number of groups, 1 for dense convolutions.
	Group int

	// OCPG and ICPG are the number of output and input channels per group.
	OCPG, ICPG int

	// Spatial holds the filter height and width.
	Spatial  [2]int
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int

	// ShouldFlip is true for ModeConvolution: the filter taps are applied in reverse order.
	ShouldFlip bool
}

// OutputChannels returns Group*OCPG.
func (fm FilterMeta) OutputChannels() int { return fm.Group * fm.OCPG }

// InputChannels returns Group*ICPG.
func (fm FilterMeta) InputChannels() int { return fm.Group * fm.ICPG }

// Size returns the number of elements of the filter.
func (fm FilterMeta) Size() int {
	return fm.Group * fm.OCPG * fm.ICPG * fm.Spatial[0] * fm.Spatial[1]
}

// String implements fmt.Stringer.
func (fm FilterMeta) String() string {
	return fmt.Sprintf("{%s g=%d ocpg=%d icpg=%d f=%dx%d flip=%v}",
		fm.DType, fm.Group, fm.OCPG, fm.ICPG, fm.Spatial[0], fm.Spatial[1], fm.ShouldFlip)
}

// Descriptor describes one invocation of the backward-filter convolution: the source and
// output-gradient layouts, the canonized filter-gradient meta and the operator configuration.
//
// A Descriptor is immutable once constructed. Its Key can be used as a map key, and String as a
// stable log identifier: both are derived solely from its fields.
type Descriptor struct {
	src, diff shapes.Layout
	grad      FilterMeta
	param     Param
	key       CacheKey
}

// CacheKey is the comparable identity of a Descriptor.
type CacheKey struct {
	SrcDType, DiffDType   dtypes.DType
	SrcDims, SrcStrides   [4]int
	DiffDims, DiffStrides [4]int
	Filter                FilterMeta
	Param                 Param
}

// NewDescriptor canonizes the filter-gradient layout and validates the problem.
//
// The src layout is (N, C, H, W) for FormatNCHW or (N, H, W, C) for FormatNHWC, and diff follows
// the same format with the output channels and spatial dimensions. The grad layout must be contiguous
// and is (OC, IC, FH, FW) for SparseDense or (G, OCPG, ICPG, FH, FW) for SparseGroup, with the
// channels moved last for FormatNHWC.
func NewDescriptor(param Param, src, diff, grad shapes.Layout) (*Descriptor, error) {
	fm, err := canonizeFilter(param, grad)
	if err != nil {
		return nil, err
	}
	return NewDescriptorFromMeta(param, src, diff, fm)
}

// NewDescriptorFromMeta creates a Descriptor from an already canonized FilterMeta.
func NewDescriptorFromMeta(param Param, src, diff shapes.Layout, grad FilterMeta) (*Descriptor, error) {
	d := &Descriptor{
		src:   src.Clone(),
		diff:  diff.Clone(),
		grad:  grad,
		param: param,
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	d.key = CacheKey{
		SrcDType:  src.DType,
		DiffDType: diff.DType,
		Filter:    grad,
		Param:     param,
	}
	copy(d.key.SrcDims[:], src.Dimensions)
	copy(d.key.SrcStrides[:], src.Strides)
	copy(d.key.DiffDims[:], diff.Dimensions)
	copy(d.key.DiffStrides[:], diff.Strides)
	return d, nil
}

func canonizeFilter(param Param, grad shapes.Layout) (fm FilterMeta, err error) {
	if !grad.Ok() {
		return fm, errors.Errorf("invalid filter-gradient layout %s", grad)
	}
	if !grad.IsContiguous() {
		return fm, errors.Errorf("filter-gradient layout %s must be contiguous", grad)
	}
	fm = FilterMeta{
		DType:      grad.DType,
		Format:     param.Format,
		Stride:     [2]int{param.StrideH, param.StrideW},
		Padding:    [2]int{param.PadH, param.PadW},
		Dilation:   [2]int{param.DilateH, param.DilateW},
		ShouldFlip: param.Mode == ModeConvolution,
	}
	dims := grad.Dimensions
	switch param.Sparse {
	case SparseDense:
		if err = grad.CheckRank(4); err != nil {
			return fm, errors.WithMessage(err, "dense filter gradient")
		}
		fm.Group = 1
		fm.OCPG = dims[0]
		if param.Format == FormatNCHW {
			fm.ICPG, fm.Spatial = dims[1], [2]int{dims[2], dims[3]}
		} else {
			fm.Spatial, fm.ICPG = [2]int{dims[1], dims[2]}, dims[3]
		}
	case SparseGroup:
		if err = grad.CheckRank(5); err != nil {
			return fm, errors.WithMessage(err, "group filter gradient")
		}
		fm.Group, fm.OCPG = dims[0], dims[1]
		if param.Format == FormatNCHW {
			fm.ICPG, fm.Spatial = dims[2], [2]int{dims[3], dims[4]}
		} else {
			fm.Spatial, fm.ICPG = [2]int{dims[2], dims[3]}, dims[4]
		}
	default:
		return fm, errors.Errorf("unknown sparse mode %s", param.Sparse)
	}
	return fm, nil
}

// channelsAndSpatial returns the (N, C, H, W) dimensions of a rank-4 layout in the given format.
func channelsAndSpatial(format Format, l shapes.Layout) (n, c, h, w int) {
	if format == FormatNHWC {
		return l.Dim(0), l.Dim(-1), l.Dim(1), l.Dim(2)
	}
	return l.Dim(0), l.Dim(1), l.Dim(2), l.Dim(3)
}

// layoutDims returns the dimensions of a rank-4 layout in the given format.
func layoutDims(format Format, n, c, h, w int) []int {
	if format == FormatNHWC {
		return []int{n, h, w, c}
	}
	return []int{n, c, h, w}
}

// outputDim returns the convolution output dimension, which may be <= 0 for invalid configurations.
func outputDim(input, filter, stride, padding, dilation int) int {
	dilatedFilter := dilation*(filter-1) + 1
	if input+2*padding < dilatedFilter {
		return 0
	}
	return (input+2*padding-dilatedFilter)/stride + 1
}

// checkParamMatchesFilter returns an error if the operator configuration and the canonized filter
// describe different geometries.
func checkParamMatchesFilter(p Param, fm FilterMeta) error {
	if p.Format != fm.Format {
		return errors.Errorf("filter format %s doesn't match operator format %s", fm.Format, p.Format)
	}
	if fm.ShouldFlip != (p.Mode == ModeConvolution) {
		return errors.Errorf("filter flip=%v doesn't match operator mode %s", fm.ShouldFlip, p.Mode)
	}
	if p.Sparse == SparseDense && fm.Group != 1 {
		return errors.Errorf("filter %s with %d groups doesn't match a %s operator", fm, fm.Group, p.Sparse)
	}
	if fm.Stride != [2]int{p.StrideH, p.StrideW} ||
		fm.Padding != [2]int{p.PadH, p.PadW} ||
		fm.Dilation != [2]int{p.DilateH, p.DilateW} {
		return errors.Errorf("filter stride %v, padding %v and dilation %v don't match operator %s",
			fm.Stride, fm.Padding, fm.Dilation, p)
	}
	return nil
}

func (d *Descriptor) validate() error {
	fm := d.grad
	if err := checkParamMatchesFilter(d.param, fm); err != nil {
		return err
	}
	if !d.src.Ok() || !d.diff.Ok() {
		return errors.Errorf("invalid src (%s) or diff (%s) layouts", d.src, d.diff)
	}
	if err := d.src.CheckRank(4); err != nil {
		return errors.WithMessage(err, "src")
	}
	if err := d.diff.CheckRank(4); err != nil {
		return errors.WithMessage(err, "diff")
	}
	if fm.Group <= 0 || fm.OCPG <= 0 || fm.ICPG <= 0 || fm.Spatial[0] <= 0 || fm.Spatial[1] <= 0 {
		return errors.Errorf("invalid filter meta %s", fm)
	}
	for axis := range 2 {
		if fm.Stride[axis] <= 0 || fm.Dilation[axis] <= 0 || fm.Padding[axis] < 0 {
			return errors.Errorf("invalid stride (%v), dilation (%v) or padding (%v)", fm.Stride, fm.Dilation, fm.Padding)
		}
	}
	err := d.src.CheckDims(layoutDims(fm.Format,
		shapes.UncheckedAxis, fm.InputChannels(), shapes.UncheckedAxis, shapes.UncheckedAxis)...)
	if err != nil {
		return errors.WithMessagef(err, "src channels must match filter %s", fm)
	}
	n, _, ih, iw := channelsAndSpatial(fm.Format, d.src)
	_, oc, _, _ := channelsAndSpatial(fm.Format, d.diff)
	if oc != fm.OutputChannels() {
		return errors.Errorf("diff %s has %d channels, but filter %s produces %d", d.diff, oc, fm, fm.OutputChannels())
	}
	wantOH := outputDim(ih, fm.Spatial[0], fm.Stride[0], fm.Padding[0], fm.Dilation[0])
	wantOW := outputDim(iw, fm.Spatial[1], fm.Stride[1], fm.Padding[1], fm.Dilation[1])
	if err = d.diff.CheckDims(layoutDims(fm.Format, n, oc, wantOH, wantOW)...); err != nil {
		return errors.WithMessagef(err, "diff batch size and spatial dimensions must match src %s, filter %s and param %s",
			d.src, fm, d.param)
	}
	return nil
}

// Src returns (a copy of) the source tensor layout.
func (d *Descriptor) Src() shapes.Layout { return d.src.Clone() }

// Diff returns (a copy of) the output-gradient tensor layout.
func (d *Descriptor) Diff() shapes.Layout { return d.diff.Clone() }

// Filter returns the canonized filter-gradient meta.
func (d *Descriptor) Filter() FilterMeta { return d.grad }

// Param returns the operator configuration.
func (d *Descriptor) Param() Param { return d.param }

// Key returns the comparable identity of the descriptor.
func (d *Descriptor) Key() CacheKey { return d.key }

// Equal returns whether both descriptors describe the same problem.
func (d *Descriptor) Equal(other *Descriptor) bool { return d.key == other.key }

// BatchSize returns N.
func (d *Descriptor) BatchSize() int { return d.src.Dimensions[0] }

// InputSpatial returns the source (H, W).
func (d *Descriptor) InputSpatial() [2]int {
	_, _, h, w := channelsAndSpatial(d.grad.Format, d.src)
	return [2]int{h, w}
}

// OutputSpatial returns the output-gradient (OH, OW).
func (d *Descriptor) OutputSpatial() [2]int {
	_, _, h, w := channelsAndSpatial(d.grad.Format, d.diff)
	return [2]int{h, w}
}

// SameDTypes returns whether src, diff and filter gradient share the same dtype.
func (d *Descriptor) SameDTypes() bool {
	return d.src.DType == d.diff.DType && d.diff.DType == d.grad.DType
}

// ForwardView is the forward convolution that produced the output whose gradient is being back-propagated.
type ForwardView struct {
	Src    shapes.Layout
	Filter FilterMeta
	Dst    shapes.Layout
}

// AsForward returns the forward view of the problem: the diff layout plays the role of the forward output.
func (d *Descriptor) AsForward() ForwardView {
	return ForwardView{Src: d.src.Clone(), Filter: d.grad, Dst: d.diff.Clone()}
}

// String returns a stable description of the problem, suitable for logs.
func (d *Descriptor) String() string {
	fm := d.grad
	return fmt.Sprintf("src=%s diff=%s grad_filter=%s, pad=%dx%d, stride=%dx%d, dilate=%dx%d, xcorr=%v, format=%s",
		d.src, d.diff, fm,
		fm.Padding[0], fm.Padding[1], fm.Stride[0], fm.Stride[1], fm.Dilation[0], fm.Dilation[1],
		!fm.ShouldFlip, fm.Format)
}
