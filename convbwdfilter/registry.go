// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"slices"

	"k8s.io/klog/v2"
)

// Registry owns one instance of each algorithm, and exposes them in a fixed order: vendor-backed first
// (if a library was given), then MATMUL, then CHANNEL_WISE.
//
// Selection policies rely on this order to break ties deterministically.
// A Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	// Vendor is nil if the registry was created without a Library.
	Vendor      *VendorAlgorithm
	Matmul      *MatmulAlgorithm
	Channelwise *ChannelwiseAlgorithm

	all, vendorAlgos, nonVendorAlgos []Algorithm
	byName                           map[string]Algorithm
	knownSubAlgorithms               []SubAlgorithm
}

// NewRegistry creates the algorithms. lib may be nil, in which case there is no vendor-backed algorithm.
//
// The library is not queried for any problem here: queries happen lazily, per problem.
func NewRegistry(lib Library, cfg Config) *Registry {
	r := &Registry{
		Matmul:      NewMatmulAlgorithm(cfg.MaxParallelism),
		Channelwise: NewChannelwiseAlgorithm(),
		byName:      make(map[string]Algorithm),
	}
	if lib != nil {
		r.Vendor = NewVendorAlgorithm(lib, cfg.VendorReproducible)
		r.knownSubAlgorithms = slices.Clone(lib.SubAlgorithms())
		r.add(r.Vendor)
	}
	r.add(r.Matmul)
	r.add(r.Channelwise)
	if klog.V(1).Enabled() {
		names := make([]string, 0, len(r.all))
		for _, algo := range r.all {
			names = append(names, algo.Name())
		}
		klog.Infof("conv bwd filter registry: algorithms %q, %d known vendor sub-algorithms",
			names, len(r.knownSubAlgorithms))
	}
	return r
}

func (r *Registry) add(algo Algorithm) {
	r.all = append(r.all, algo)
	if algo.IsVendorBacked() {
		r.vendorAlgos = append(r.vendorAlgos, algo)
	} else {
		r.nonVendorAlgos = append(r.nonVendorAlgos, algo)
	}
	r.byName[algo.Name()] = algo
}

// All returns every algorithm, in registration order.
func (r *Registry) All() []Algorithm { return slices.Clone(r.all) }

// VendorAlgos returns the vendor-backed algorithms, in registration order.
func (r *Registry) VendorAlgos() []Algorithm { return slices.Clone(r.vendorAlgos) }

// NonVendorAlgos returns the algorithms that don't depend on an external library, in registration order.
func (r *Registry) NonVendorAlgos() []Algorithm { return slices.Clone(r.nonVendorAlgos) }

// ByName returns the algorithm with the given name.
func (r *Registry) ByName(name string) (Algorithm, bool) {
	algo, found := r.byName[name]
	return algo, found
}

// KnownSubAlgorithms returns the sub-algorithms the vendor library declared at registration.
func (r *Registry) KnownSubAlgorithms() []SubAlgorithm { return slices.Clone(r.knownSubAlgorithms) }

// Available returns the algorithms available for the problem within the workspace limit (and reproducible,
// if requested), in registration order.
func (r *Registry) Available(d *Descriptor, reproducible bool, workspaceLimit uint64) []Algorithm {
	var algos []Algorithm
	for _, algo := range r.all {
		if IsAvailableReproducible(algo, d, reproducible, workspaceLimit) {
			algos = append(algos, algo)
		}
	}
	return algos
}
