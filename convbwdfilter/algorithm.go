// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"math"

	"k8s.io/klog/v2"
)

// Algorithm is one concrete strategy to compute the gradient of a convolution with respect to its filter.
//
// Implementations are safe for concurrent use, as long as concurrent Exec calls don't share buffers.
type Algorithm interface {
	// Name is a stable identifier, used in logs and for lookups in the Registry.
	Name() string

	// IsAvailable returns whether the algorithm can execute the problem. It never allocates device
	// resources, and its only side effect is memoization.
	IsAvailable(d *Descriptor) bool

	// WorkspaceInBytes returns the exact scratch memory Exec needs for the problem.
	//
	// It must only be called for available problems: otherwise it panics with a *ContractError.
	// Errors reported by an external library are returned.
	WorkspaceInBytes(d *Descriptor) (uint64, error)

	// Exec computes the filter gradient into args.Grad.
	//
	// The caller must have checked IsAvailable and provided at least WorkspaceInBytes bytes of workspace,
	// otherwise it panics with a *ContractError.
	Exec(args *ExecArgs) error

	// IsReproducible returns whether repeated executions with identical inputs are bit-identical.
	IsReproducible() bool

	// IsVendorBacked returns whether the algorithm delegates to an external compute library.
	IsVendorBacked() bool
}

// algoBase provides the default IsVendorBacked for the local algorithms.
type algoBase struct{}

// IsVendorBacked implements Algorithm.
func (algoBase) IsVendorBacked() bool { return false }

// NoWorkspaceLimit can be used as limit in IsAvailableWithin and IsAvailableReproducible.
const NoWorkspaceLimit = uint64(math.MaxUint64)

// IsAvailableWithin returns whether algo is available for the problem and needs at most limit bytes of workspace.
//
// An error querying the workspace size makes it not available.
func IsAvailableWithin(algo Algorithm, d *Descriptor, limit uint64) bool {
	if !algo.IsAvailable(d) {
		return false
	}
	required, err := algo.WorkspaceInBytes(d)
	if err != nil {
		klog.Warningf("conv bwd filter algo %s: failed to query workspace for %s: %+v", algo.Name(), d, err)
		return false
	}
	return required <= limit
}

// IsAvailableReproducible returns whether algo is available within the workspace limit and, if reproducible
// is requested, whether it is reproducible.
func IsAvailableReproducible(algo Algorithm, d *Descriptor, reproducible bool, limit uint64) bool {
	return (!reproducible || algo.IsReproducible()) && IsAvailableWithin(algo, d, limit)
}

// CheckWorkspace panics with a *ContractError if workspaceSize is smaller than what algo requires for the problem.
// It returns algo, so it can be chained.
func CheckWorkspace(algo Algorithm, d *Descriptor, workspaceSize uint64) Algorithm {
	required, err := algo.WorkspaceInBytes(d)
	if err != nil {
		contractViolationf(algo.Name(), "cannot check workspace, failed to query the required size for %s: %v", d, err)
	}
	checkWorkspaceSize(algo.Name(), required, workspaceSize)
	return algo
}

func checkWorkspaceSize(algorithm string, required, workspaceSize uint64) {
	if required > workspaceSize {
		contractViolationf(algorithm, "required workspace %d bytes, got %d", required, workspaceSize)
	}
}
