// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// isLocalDType returns whether the local (non-vendor) algorithms support the dtype.
func isLocalDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16:
		return true
	}
	return false
}

// computeDTypeSize returns the size in bytes of the type used to accumulate a local computation.
// Half-precision is always accumulated in float32.
func computeDTypeSize(dtype dtypes.DType) uint64 {
	if dtype == dtypes.Float64 {
		return 8
	}
	return 4
}

func identity[T any](v T) T { return v }

func float16ToFloat32(v float16.Float16) float32 { return v.Float32() }

func float32ToFloat16(v float32) float16.Float16 { return float16.Fromfloat32(v) }
