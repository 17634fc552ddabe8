// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stub provides a programmable convbwdfilter.Library that counts the calls it receives.
//
// It is meant for tests of the vendor-backed algorithm and of selection policies: it computes nothing.
package stub

import (
	"sync/atomic"

	"github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/pkg/errors"
)

// LibraryName is the name reported by the stub Library.
const LibraryName = "stub"

// Library implements convbwdfilter.Library with configurable answers.
//
// Configure the exported fields before use, they must not be changed afterwards.
type Library struct {
	// Algorithms returned by FindAlgorithms, for problems accepted by Compatible.
	Algorithms []convbwdfilter.SubAlgorithm

	// Compatible filters which problems are supported. If nil every problem is.
	Compatible func(d *convbwdfilter.Descriptor) bool

	// Workspace returns the workspace size of a sub-algorithm. If nil it's 0.
	Workspace func(d *convbwdfilter.Descriptor, sub convbwdfilter.SubAlgorithm) uint64

	// FindErr, WorkspaceErr and ExecErr, if not nil, are returned by the corresponding methods.
	FindErr, WorkspaceErr, ExecErr error

	findCalls, workspaceCalls, execCalls atomic.Int64
	lastExec                             atomic.Pointer[convbwdfilter.SubAlgorithm]
}

var _ convbwdfilter.Library = (*Library)(nil)

// New returns a stub Library offering the given sub-algorithms for every problem.
func New(algorithms ...convbwdfilter.SubAlgorithm) *Library {
	return &Library{Algorithms: algorithms}
}

// Name implements convbwdfilter.Library.
func (lib *Library) Name() string { return LibraryName }

// SubAlgorithms implements convbwdfilter.Library.
func (lib *Library) SubAlgorithms() []convbwdfilter.SubAlgorithm {
	return append([]convbwdfilter.SubAlgorithm(nil), lib.Algorithms...)
}

// FindAlgorithms implements convbwdfilter.Library.
func (lib *Library) FindAlgorithms(d *convbwdfilter.Descriptor) ([]convbwdfilter.SubAlgorithm, error) {
	lib.findCalls.Add(1)
	if lib.FindErr != nil {
		return nil, lib.FindErr
	}
	if lib.Compatible != nil && !lib.Compatible(d) {
		return nil, nil
	}
	return lib.SubAlgorithms(), nil
}

// WorkspaceSize implements convbwdfilter.Library.
func (lib *Library) WorkspaceSize(d *convbwdfilter.Descriptor, sub convbwdfilter.SubAlgorithm) (uint64, error) {
	lib.workspaceCalls.Add(1)
	if lib.WorkspaceErr != nil {
		return 0, lib.WorkspaceErr
	}
	if lib.Workspace == nil {
		return 0, nil
	}
	return lib.Workspace(d, sub), nil
}

// Exec implements convbwdfilter.Library. It only records the call.
func (lib *Library) Exec(args *convbwdfilter.ExecArgs, sub convbwdfilter.SubAlgorithm) error {
	lib.execCalls.Add(1)
	lib.lastExec.Store(&sub)
	if lib.ExecErr != nil {
		return lib.ExecErr
	}
	if args == nil || args.Descriptor == nil {
		return errors.New("stub library: nil ExecArgs")
	}
	return nil
}

// FindCalls returns the number of calls to FindAlgorithms.
func (lib *Library) FindCalls() int64 { return lib.findCalls.Load() }

// WorkspaceCalls returns the number of calls to WorkspaceSize.
func (lib *Library) WorkspaceCalls() int64 { return lib.workspaceCalls.Load() }

// ExecCalls returns the number of calls to Exec.
func (lib *Library) ExecCalls() int64 { return lib.execCalls.Load() }

// LastExec returns the sub-algorithm of the last call to Exec, if any.
func (lib *Library) LastExec() (convbwdfilter.SubAlgorithm, bool) {
	sub := lib.lastExec.Load()
	if sub == nil {
		return convbwdfilter.SubAlgorithm{}, false
	}
	return *sub, true
}
