// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import "fmt"

// Mode of the convolution: whether the kernel is flipped (true convolution) or not (cross-correlation,
// what most ML frameworks call "convolution").
type Mode int

const (
	ModeCrossCorrelation Mode = iota
	ModeConvolution
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeCrossCorrelation:
		return "CrossCorrelation"
	case ModeConvolution:
		return "Convolution"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Format is the position of the channels axis in the source and output-gradient tensors.
type Format int

const (
	FormatNCHW Format = iota
	FormatNHWC
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatNCHW:
		return "NCHW"
	case FormatNHWC:
		return "NHWC"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Sparse defines how the filter is laid out: dense (OC, IC, FH, FW) or grouped (G, OCPG, ICPG, FH, FW).
type Sparse int

const (
	SparseDense Sparse = iota
	SparseGroup
)

// String implements fmt.Stringer.
func (s Sparse) String() string {
	switch s {
	case SparseDense:
		return "Dense"
	case SparseGroup:
		return "Group"
	}
	return fmt.Sprintf("Sparse(%d)", int(s))
}

// ComputeMode selects the accumulation precision requested by the operator.
// ComputeModeFloat32 asks half-precision problems to accumulate in float32.
type ComputeMode int

const (
	ComputeModeDefault ComputeMode = iota
	ComputeModeFloat32
)

// String implements fmt.Stringer.
func (c ComputeMode) String() string {
	switch c {
	case ComputeModeDefault:
		return "Default"
	case ComputeModeFloat32:
		return "Float32"
	}
	return fmt.Sprintf("ComputeMode(%d)", int(c))
}

// Param is the configuration of the convolution operator.
//
// It is a comparable value, so it can be part of a cache key.
type Param struct {
	Mode        Mode
	Format      Format
	Sparse      Sparse
	ComputeMode ComputeMode

	PadH, PadW       int
	StrideH, StrideW int
	DilateH, DilateW int
}

// DefaultParam returns a dense NCHW cross-correlation with unit strides and dilations and no padding.
func DefaultParam() Param {
	return Param{
		StrideH: 1, StrideW: 1,
		DilateH: 1, DilateW: 1,
	}
}

// String implements fmt.Stringer.
func (p Param) String() string {
	return fmt.Sprintf("{mode=%s, format=%s, sparse=%s, compute=%s, pad=%dx%d, stride=%dx%d, dilate=%dx%d}",
		p.Mode, p.Format, p.Sparse, p.ComputeMode, p.PadH, p.PadW, p.StrideH, p.StrideW, p.DilateH, p.DilateW)
}
