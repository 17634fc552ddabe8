// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VendorAlgorithmName is the prefix of the name of VendorAlgorithm, followed by ":<library name>".
const VendorAlgorithmName = "VendorConvolutionBackwardFilter"

// VendorAlgorithm delegates the execution to an external compute Library, which picks one of its own
// sub-algorithms.
//
// The choice of the sub-algorithm and its workspace size are queried once per problem and memoized:
// the library queries are assumed to be pure.
type VendorAlgorithm struct {
	lib          Library
	reproducible bool
	name         string

	algoCache      *QueryCache[CacheKey, chosenSubAlgorithm]
	workspaceCache *QueryCache[workspaceKey, uint64]
}

// chosenSubAlgorithm is the memoized answer to "which sub-algorithm to use", including "none".
type chosenSubAlgorithm struct {
	sub   SubAlgorithm
	found bool
}

type workspaceKey struct {
	problem CacheKey
	subID   int
}

var _ Algorithm = (*VendorAlgorithm)(nil)

// NewVendorAlgorithm creates a VendorAlgorithm for lib.
//
// If reproducible is true only deterministic sub-algorithms are considered, and the algorithm reports
// itself as reproducible.
func NewVendorAlgorithm(lib Library, reproducible bool) *VendorAlgorithm {
	if lib == nil {
		exceptions.Panicf("NewVendorAlgorithm: nil Library")
	}
	name := VendorAlgorithmName + ":" + lib.Name()
	return &VendorAlgorithm{
		lib:            lib,
		reproducible:   reproducible,
		name:           name,
		algoCache:      NewQueryCache[CacheKey, chosenSubAlgorithm](name + " sub-algorithm"),
		workspaceCache: NewQueryCache[workspaceKey, uint64](name + " workspace"),
	}
}

// Name implements Algorithm.
func (v *VendorAlgorithm) Name() string { return v.name }

// IsReproducible implements Algorithm. It is fixed at construction.
func (v *VendorAlgorithm) IsReproducible() bool { return v.reproducible }

// IsVendorBacked implements Algorithm.
func (v *VendorAlgorithm) IsVendorBacked() bool { return true }

// Library returns the external library the algorithm delegates to.
func (v *VendorAlgorithm) Library() Library { return v.lib }

// chooseSubAlgorithm returns the memoized best sub-algorithm for the problem.
func (v *VendorAlgorithm) chooseSubAlgorithm(d *Descriptor) (chosenSubAlgorithm, error) {
	return v.algoCache.GetOrCompute(d.Key(), func() (chosenSubAlgorithm, error) {
		klog.V(1).Infof("%s: querying sub-algorithms for %s", v.name, d)
		candidates, err := v.lib.FindAlgorithms(d)
		if err != nil {
			return chosenSubAlgorithm{}, errors.Wrapf(err, "%s: failed to find sub-algorithms for %s", v.name, d)
		}
		for _, sub := range candidates {
			if v.reproducible && !sub.Deterministic {
				continue
			}
			return chosenSubAlgorithm{sub: sub, found: true}, nil
		}
		return chosenSubAlgorithm{}, nil
	})
}

// SubAlgorithm returns the sub-algorithm that will be used for the problem, and whether there is one.
func (v *VendorAlgorithm) SubAlgorithm(d *Descriptor) (SubAlgorithm, bool, error) {
	chosen, err := v.chooseSubAlgorithm(d)
	return chosen.sub, chosen.found, err
}

// IsAvailable implements Algorithm: the library must report at least one compatible sub-algorithm
// (a deterministic one, if the algorithm is reproducible).
//
// If the library fails to answer, the problem is considered not available, and the failure logged.
func (v *VendorAlgorithm) IsAvailable(d *Descriptor) bool {
	chosen, err := v.chooseSubAlgorithm(d)
	if err != nil {
		klog.Warningf("%+v", err)
		return false
	}
	return chosen.found
}

// WorkspaceInBytes implements Algorithm.
func (v *VendorAlgorithm) WorkspaceInBytes(d *Descriptor) (uint64, error) {
	chosen, err := v.chooseSubAlgorithm(d)
	if err != nil {
		return 0, err
	}
	if !chosen.found {
		contractViolationf(v.name, "workspace requested for a problem it can't execute: %s", d)
	}
	key := workspaceKey{problem: d.Key(), subID: chosen.sub.ID}
	return v.workspaceCache.GetOrCompute(key, func() (uint64, error) {
		size, err := v.lib.WorkspaceSize(d, chosen.sub)
		if err != nil {
			return 0, errors.Wrapf(err, "%s: failed to query workspace of %s for %s", v.name, chosen.sub, d)
		}
		return size, nil
	})
}

// Exec implements Algorithm.
func (v *VendorAlgorithm) Exec(args *ExecArgs) error {
	chosen, err := v.chooseSubAlgorithm(args.Descriptor)
	if err != nil {
		return err
	}
	if !chosen.found {
		contractViolationf(v.name, "exec called for a problem it can't execute: %s", args.Descriptor)
	}
	required, err := v.WorkspaceInBytes(args.Descriptor)
	if err != nil {
		return err
	}
	checkWorkspaceSize(v.name, required, args.WorkspaceSize())
	if err = v.lib.Exec(args, chosen.sub); err != nil {
		return errors.Wrapf(err, "%s: %s failed for %s", v.name, chosen.sub, args.Descriptor)
	}
	return nil
}

// CacheStats returns the statistics of the sub-algorithm and of the workspace caches.
func (v *VendorAlgorithm) CacheStats() (subAlgorithms, workspaces CacheStats) {
	return v.algoCache.Stats(), v.workspaceCache.Stats()
}

// ResetCaches drops every memoized answer from the library.
func (v *VendorAlgorithm) ResetCaches() {
	v.algoCache.Reset()
	v.workspaceCache.Reset()
}
