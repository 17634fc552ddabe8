// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import "fmt"

// SubAlgorithm identifies one of the internal algorithms of an external compute Library.
type SubAlgorithm struct {
	// ID is opaque to this package, and only meaningful to the Library that returned it.
	ID   int
	Name string

	// Deterministic is true if the sub-algorithm produces bit-identical results across runs.
	Deterministic bool
}

// String implements fmt.Stringer.
func (s SubAlgorithm) String() string {
	return fmt.Sprintf("%s(#%d, deterministic=%v)", s.Name, s.ID, s.Deterministic)
}

// Library is the contract of an external (usually vendor supplied) compute library able to execute the
// backward-filter convolution with one of its own sub-algorithms.
//
// FindAlgorithms and WorkspaceSize must be pure functions of their inputs: VendorAlgorithm caches their
// results for the lifetime of the process. All methods must be safe for concurrent use.
type Library interface {
	// Name of the library, e.g. "software".
	Name() string

	// SubAlgorithms lists every sub-algorithm the library knows about, in no particular order.
	// It is only used for registration and diagnostics, and must not inspect any problem.
	SubAlgorithms() []SubAlgorithm

	// FindAlgorithms returns the sub-algorithms compatible with the problem, best first.
	// It may be expensive (e.g. benchmarking on the device).
	FindAlgorithms(d *Descriptor) ([]SubAlgorithm, error)

	// WorkspaceSize returns the workspace in bytes the sub-algorithm needs for the problem.
	WorkspaceSize(d *Descriptor, sub SubAlgorithm) (uint64, error)

	// Exec executes the problem with the given sub-algorithm, writing into args.GradData.
	Exec(args *ExecArgs, sub SubAlgorithm) error
}
