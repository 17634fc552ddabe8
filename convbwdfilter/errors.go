// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"github.com/pkg/errors"
)

// ContractError is the panic value thrown when a caller breaks the contract of an Algorithm: too
// little workspace, executing an unavailable problem, or buffers that don't match the descriptor.
//
// It is never returned as an error: it signals a programming error in the caller. Tests can catch
// it with exceptions.TryCatch[*ContractError].
type ContractError struct {
	// Algorithm is the name of the algorithm whose contract was violated.
	Algorithm string
	err       error
}

// Error implements error.
func (e *ContractError) Error() string {
	return "conv bwd filter algo " + e.Algorithm + ": " + e.err.Error()
}

// Unwrap returns the underlying error, which carries the stack trace.
func (e *ContractError) Unwrap() error { return e.err }

// contractViolationf panics with a *ContractError.
func contractViolationf(algorithm string, format string, args ...any) {
	panic(&ContractError{Algorithm: algorithm, err: errors.Errorf(format, args...)})
}
