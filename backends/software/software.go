// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package software implements a pure Go compute library for the backward-filter convolution, with the
// same contract as a vendor library: it offers its own sub-algorithms, picks the compatible ones for each
// problem and reports their workspace.
//
// It only supports float32 NCHW problems. It is registered under the name "software", so importing it
// is enough to make it available to backends.New:
//
//	import _ "github.com/gomlx/filtergrad/backends/software"
package software

import (
	"strconv"
	"strings"

	"github.com/gomlx/filtergrad/backends"
	"github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// LibraryName to be used in FILTERGRAD_LIBRARY to specify this library.
const LibraryName = "software"

// DefaultNumChunks is the default number of batch chunks of the SplitBatch sub-algorithm.
const DefaultNumChunks = 4

// Registers New() as the constructor for the "software" library.
func init() {
	backends.Register(LibraryName, func(config string) (convbwdfilter.Library, error) {
		return New(config)
	})
}

// Sub-algorithms offered by the library.
var (
	// SplitBatch splits the batch in chunks computed concurrently, and reduces the partial gradients in
	// the order the chunks finish: fast, but not deterministic.
	SplitBatch = convbwdfilter.SubAlgorithm{ID: 0, Name: "SPLIT_BATCH", Deterministic: false}

	// Direct accumulates each filter-gradient element in a fixed order, without workspace.
	Direct = convbwdfilter.SubAlgorithm{ID: 1, Name: "DIRECT", Deterministic: true}
)

// Library implements convbwdfilter.Library.
type Library struct {
	numChunks int
}

var _ convbwdfilter.Library = (*Library)(nil)

// New constructs a new software Library.
//
// The config is a comma-separated list of options:
//   - "chunks=<int>": number of batch chunks for SPLIT_BATCH (default DefaultNumChunks).
func New(config string) (*Library, error) {
	lib := &Library{numChunks: DefaultNumChunks}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "chunks":
			n, err := strconv.Atoi(value)
			if err != nil || n < 2 {
				return nil, errors.Errorf("invalid number of chunks %q for %s library, it must be an integer >= 2",
					value, LibraryName)
			}
			lib.numChunks = n
		default:
			return nil, errors.Errorf("unknown configuration option %q for %s library", part, LibraryName)
		}
	}
	return lib, nil
}

// Name implements convbwdfilter.Library.
func (lib *Library) Name() string { return LibraryName }

// SubAlgorithms implements convbwdfilter.Library.
func (lib *Library) SubAlgorithms() []convbwdfilter.SubAlgorithm {
	return []convbwdfilter.SubAlgorithm{SplitBatch, Direct}
}

// isSupported returns whether the library can handle the problem at all.
func isSupported(d *convbwdfilter.Descriptor) bool {
	fm := d.Filter()
	return fm.Format == convbwdfilter.FormatNCHW && fm.DType == dtypes.Float32 && d.SameDTypes()
}

// FindAlgorithms implements convbwdfilter.Library. SPLIT_BATCH is preferred when the batch can be split.
func (lib *Library) FindAlgorithms(d *convbwdfilter.Descriptor) ([]convbwdfilter.SubAlgorithm, error) {
	if !isSupported(d) {
		return nil, nil
	}
	if d.BatchSize() >= 2 {
		return []convbwdfilter.SubAlgorithm{SplitBatch, Direct}, nil
	}
	return []convbwdfilter.SubAlgorithm{Direct}, nil
}

// numChunksFor returns the number of batch chunks actually used for the problem.
func (lib *Library) numChunksFor(d *convbwdfilter.Descriptor) int {
	return min(lib.numChunks, d.BatchSize())
}

// WorkspaceSize implements convbwdfilter.Library.
func (lib *Library) WorkspaceSize(d *convbwdfilter.Descriptor, sub convbwdfilter.SubAlgorithm) (uint64, error) {
	switch sub.ID {
	case Direct.ID:
		return 0, nil
	case SplitBatch.ID:
		return convbwdfilter.WorkspaceSize(lib.partialsSize(d)), nil
	}
	return 0, errors.Errorf("%s library: unknown sub-algorithm %s", LibraryName, sub)
}

// partialsSize is the size in bytes of the partial gradients of SPLIT_BATCH.
func (lib *Library) partialsSize(d *convbwdfilter.Descriptor) uint64 {
	return uint64(lib.numChunksFor(d)) * uint64(d.Filter().Size()) * 4
}

// Exec implements convbwdfilter.Library.
func (lib *Library) Exec(args *convbwdfilter.ExecArgs, sub convbwdfilter.SubAlgorithm) error {
	if !isSupported(args.Descriptor) {
		return errors.Errorf("%s library: unsupported problem %s", LibraryName, args.Descriptor)
	}
	src, okSrc := args.SrcData.([]float32)
	diff, okDiff := args.DiffData.([]float32)
	grad, okGrad := args.GradData.([]float32)
	if !okSrc || !okDiff || !okGrad {
		return errors.Errorf("%s library: buffers must be []float32, got %T, %T and %T",
			LibraryName, args.SrcData, args.DiffData, args.GradData)
	}
	p := newProblem(args.Descriptor)
	switch sub.ID {
	case Direct.ID:
		p.direct(src, diff, grad, 0, p.batchSize)
		return nil
	case SplitBatch.ID:
		numChunks := lib.numChunksFor(args.Descriptor)
		chunks := convbwdfilter.SplitWorkspace(args.Workspace, lib.partialsSize(args.Descriptor))
		partials := convbwdfilter.WorkspaceAs[float32](chunks[0], numChunks*p.filterSize)
		p.splitBatch(src, diff, grad, numChunks, partials)
		return nil
	}
	return errors.Errorf("%s library: unknown sub-algorithm %s", LibraryName, sub)
}
