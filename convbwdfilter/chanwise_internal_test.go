// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidRange(t *testing.T) {
	for inputDim := 1; inputDim <= 7; inputDim++ {
		for stride := 1; stride <= 3; stride++ {
			for padding := 0; padding <= 2; padding++ {
				for filter := 1; filter <= 3; filter++ {
					outputDim := outputDim(inputDim, filter, stride, padding, 1)
					for tap := range filter {
						begin, end := validRange(tap, stride, padding, inputDim, outputDim)
						for o := range outputDim {
							i := o*stride - padding + tap
							inside := i >= 0 && i < inputDim
							require.Equal(t, inside, o >= begin && o < end,
								"input=%d stride=%d padding=%d filter=%d tap=%d o=%d: range [%d, %d)",
								inputDim, stride, padding, filter, tap, o, begin, end)
						}
					}
				}
			}
		}
	}
}
