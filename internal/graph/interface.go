package graph

import (
	"context"

	"github.com/vk/litweave/internal/nodestore"
	"github.com/vk/litweave/internal/task"
)

// Graph is a unified interface over one build: the aggregated context
// (identifiers, blocks, options, dependencies) plus the execution state of
// every identifier.
//
// # Usage Patterns
//
// **Scheduler** uses Graph to:
//   - Walk identifiers in index order: IDs()
//   - Check dependency satisfaction: DependenciesOf(), Status()
//   - Record results: MarkDone(), MarkFailed()
//
// **Executor** uses Graph to:
//   - Read the outputs of inputs when concatenating an out_file: Output()
//
// # Thread-Safety
//
// Implementations MUST be thread-safe.
//
// # Typical Implementation
//
// See internal/graph.Manager for the reference implementation that composes
// topologystore.Store and nodestore.Store.
type Graph interface {
	// IDs returns every identifier in index (first-encounter) order.
	IDs(ctx context.Context) []string

	// Has reports whether an identifier is defined.
	Has(ctx context.Context, id string) bool

	// Task derives the executable task of an identifier.
	//
	// Returns an error if the identifier is not defined.
	Task(ctx context.Context, id string) (*task.Task, error)

	// DependenciesOf returns the identifiers an identifier depends on.
	DependenciesOf(ctx context.Context, id string) ([]string, error)

	// Status retrieves the current execution status of an identifier.
	Status(ctx context.Context, id string) nodestore.Status

	// Output retrieves the output of a done identifier.
	Output(ctx context.Context, id string) (string, bool)

	// Ready reports whether every dependency of an identifier is done.
	// Dependencies on undefined identifiers are never satisfied.
	Ready(ctx context.Context, id string) (bool, error)

	// Pending returns the identifiers not yet done, in index order.
	Pending(ctx context.Context) []string

	// MarkDone transitions an identifier to Done and records its output.
	//
	// State transition: Pending → Done
	MarkDone(ctx context.Context, id string, output string) error

	// MarkFailed transitions an identifier to Failed and records the error.
	//
	// State transition: Pending → Failed
	MarkFailed(ctx context.Context, id string, nodeErr error) error
}
