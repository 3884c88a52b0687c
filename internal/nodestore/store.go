// Package nodestore defines the interface for storing and retrieving the
// dynamic, mutable execution state of identifiers during a build.
//
// # Why Node Store Exists
//
// The node store isolates **mutable execution state** (status, outputs,
// errors) from the **immutable build structure** (blocks, options,
// dependencies) managed by topologystore.
//
// # Lifecycle and Usage
//
// The node store is:
//  1. **Created** once per build (ephemeral, not persistent across runs)
//  2. **Mutated** as the scheduler completes identifiers pass after pass
//  3. **Queried** by the executor, which concatenates the outputs of inputs
//  4. **Discarded** when the build ends
//
// Durable results live in the result cache, not here.
//
// # State Transitions
//
// Identifiers follow this lifecycle:
//
//	Pending → Done (with output) OR Failed (with error)
//
// "Blocked" is never stored: it is recomputed every pass from the status of
// an identifier's dependencies.
package nodestore

import "context"

// Status is the execution status of an identifier.
type Status int

const (
	// StatusPending is the status of every identifier not yet done.
	StatusPending Status = iota
	// StatusDone means the identifier produced its output.
	StatusDone
	// StatusFailed means executing the identifier failed the build.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Store is the interface for managing the mutable execution state of
// identifiers.
//
// # Thread-Safety Requirements
//
// Implementations MUST be thread-safe. A parallel scheduler respecting the
// dependency order is a valid variant of the sequential reference loop.
type Store interface {
	// SetStatus updates the execution status of an identifier.
	SetStatus(ctx context.Context, id string, status Status) error

	// GetStatus retrieves the current status of an identifier.
	// Returns StatusPending if no status has been set yet.
	GetStatus(ctx context.Context, id string) (Status, error)

	// SetOutput records the text output of a completed identifier.
	SetOutput(ctx context.Context, id string, output string) error

	// GetOutput retrieves the recorded output. The second result is false if
	// no output was recorded.
	GetOutput(ctx context.Context, id string) (string, bool, error)

	// SetError records the failure of an identifier.
	SetError(ctx context.Context, id string, nodeErr error) error

	// GetError retrieves the recorded failure, or nil.
	GetError(ctx context.Context, id string) (error, error)
}
