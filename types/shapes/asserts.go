// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/pkg/errors"
)

// UncheckedAxis can be used in CheckDims for an axis whose dimension doesn't matter.
const UncheckedAxis = int(-1)

// CheckRank returns an error if the layout doesn't have the given rank.
func (l Layout) CheckRank(rank int) error {
	if l.Rank() != rank {
		return errors.Errorf("layout %s has rank %d, wanted %d", l, l.Rank(), rank)
	}
	return nil
}

// CheckDims checks that the layout has the given dimensions and rank. A value of UncheckedAxis (-1) in
// dimensions means it can take any value and is not checked.
func (l Layout) CheckDims(dimensions ...int) error {
	if err := l.CheckRank(len(dimensions)); err != nil {
		return err
	}
	for axis, wantDim := range dimensions {
		if wantDim != UncheckedAxis && l.Dimensions[axis] != wantDim {
			return errors.Errorf("layout %s axis %d has dimension %d, wanted %d (dimensions wanted=%v)",
				l, axis, l.Dimensions[axis], wantDim, dimensions)
		}
	}
	return nil
}
