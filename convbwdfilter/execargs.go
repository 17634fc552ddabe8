// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// ExecArgs extends a Descriptor with the data buffers and the workspace of one execution.
//
// SrcData, DiffData and GradData are flat slices ([]float32, []float64 or []float16.Float16) matching the dtypes
// of the descriptor. SrcData and DiffData are addressed with the strides of their layouts, GradData is contiguous.
type ExecArgs struct {
	*Descriptor

	SrcData, DiffData, GradData any
	Workspace                   []byte
}

// NewExecArgs creates the ExecArgs for one execution.
//
// It panics with a *ContractError if the buffers don't match the descriptor: wrong Go type for the
// dtype, or too short to hold the layout.
func NewExecArgs(d *Descriptor, src, diff, grad any, workspace []byte) *ExecArgs {
	checkBuffer("src", src, d.src.DType, d.src.Span())
	checkBuffer("diff", diff, d.diff.DType, d.diff.Span())
	checkBuffer("grad", grad, d.grad.DType, d.grad.Size())
	return &ExecArgs{
		Descriptor: d,
		SrcData:    src,
		DiffData:   diff,
		GradData:   grad,
		Workspace:  workspace,
	}
}

// WorkspaceSize returns the number of bytes of workspace provided.
func (args *ExecArgs) WorkspaceSize() uint64 { return uint64(len(args.Workspace)) }

// bufferDTypeAndLen returns the dtype and length of a flat buffer, or InvalidDType for unsupported types.
func bufferDTypeAndLen(buffer any) (dtypes.DType, int) {
	switch flat := buffer.(type) {
	case []float32:
		return dtypes.Float32, len(flat)
	case []float64:
		return dtypes.Float64, len(flat)
	case []float16.Float16:
		return dtypes.Float16, len(flat)
	}
	return dtypes.InvalidDType, 0
}

func checkBuffer(name string, buffer any, dtype dtypes.DType, minLen int) {
	gotDType, gotLen := bufferDTypeAndLen(buffer)
	if gotDType != dtype {
		contractViolationf("ExecArgs", "%s buffer of type %T doesn't match dtype %s", name, buffer, dtype)
	}
	if gotLen < minLen {
		contractViolationf("ExecArgs", "%s buffer has %d elements, layout requires %d", name, gotLen, minLen)
	}
}

// FlatAs returns the flat buffer as a []T. It panics if the buffer is not a []T.
func FlatAs[T any](buffer any) []T {
	flat, ok := buffer.([]T)
	if !ok {
		var zero T
		contractViolationf("ExecArgs", "buffer of type %T is not a []%T", buffer, zero)
	}
	return flat
}
