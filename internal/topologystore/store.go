// Package topologystore defines the interface for storing and retrieving the
// aggregated context of a build: the fenced blocks grouped by identifier and
// the merged options of every identifier.
//
// # Why Topology Store Exists
//
// The topology store isolates the **immutable build structure** (which blocks
// define which identifier, and how identifiers depend on each other) from the
// **mutable execution state** (status, outputs, errors) managed by nodestore.
//
// This separation provides several architectural benefits:
//   - **Clarity:** Structure queries (scheduler) don't mix with state updates (executor)
//   - **Validation:** Option conflicts are rejected once, while the context is folded
//   - **Testability:** Aggregation can be validated independently of execution state
//
// # Lifecycle and Usage
//
// The topology store is:
//  1. **Created** once per build (ephemeral, not persistent across runs)
//  2. **Populated** by the loader, one block at a time, in sorted document order
//  3. **Read-only** during scheduling (tasks are derived from it on every pass)
//  4. **Discarded** when the build ends
//
// # Invariants
//
//   - Every identifier with blocks has options, and vice versa.
//   - A non-raw_block identifier is defined by exactly one block's worth of
//     options. A second full definition is a Parse Error.
//   - A later declaration of the same key with a different value is a Parse
//     Error, except for a raw_block continuation declaring only
//     {lpid, lptype=raw_block}, which appends its block.
package topologystore

import (
	"context"

	"github.com/vk/litweave/internal/block"
)

// Store is the interface for the aggregated build context.
//
// # Thread-Safety Requirements
//
// Implementations MUST be safe for concurrent use. The reference loop is
// single-threaded, but the metrics endpoint and watch mode read the store from
// other goroutines.
//
// # Typical Implementation
//
// See internal/inmemorytopology for the reference in-memory implementation
// using maps and sync.RWMutex.
type Store interface {
	// Add folds one classified block into the context.
	//
	// The block is appended to its identifier's block list in encounter order
	// and its options are merged into the identifier's option set. Conflicting
	// declarations fail with an E_PARSE error carrying the block's path and
	// first line; the store is left unchanged in that case.
	Add(ctx context.Context, b *block.Block) error

	// IDs returns every identifier in first-encounter order ("index order").
	IDs(ctx context.Context) []string

	// BlocksOf returns the blocks sharing an identifier, in encounter order.
	BlocksOf(ctx context.Context, id string) ([]*block.Block, bool)

	// OptionsOf returns the merged options of an identifier.
	OptionsOf(ctx context.Context, id string) (block.Options, bool)

	// DependenciesOf returns the identifiers an identifier depends on: the
	// declared inputs of an out_file (in declared order) or the sorted
	// requires of a session. Other kinds depend on nothing.
	//
	// Returns an error if the identifier is unknown.
	DependenciesOf(ctx context.Context, id string) ([]string, error)
}
