package scheduler

import "context"

// Scheduler runs every identifier of a graph exactly once, respecting
// dependencies.
//
// # How It Works
//
// Run performs passes over the graph:
//  1. Record how many identifiers are done.
//  2. Visit every identifier that is not done, in index order.
//  3. Skip it when one of its dependencies is not done yet.
//  4. Otherwise derive its task, execute it and mark it done.
//  5. Stop when every identifier is done. A pass that completes nothing is a
//     stall and fails the build.
//
// An identifier may complete in the same pass as its dependencies when it
// comes later in index order. Any execution error marks the identifier
// failed and aborts the build immediately.
//
// # Stall Diagnostics
//
// A stalled build fails with E_BUILD_STALL. The error details name every
// pending identifier together with the reason it can never run:
//   - "missing dependency: x" when it names an undefined identifier
//   - "cycle: a, b" when it sits on a dependency cycle
//   - "blocked by: a" when it only waits on other stalled identifiers
type Scheduler interface {
	// Run executes the build. It returns nil once every identifier is done.
	Run(ctx context.Context) error

	// Passes returns the number of passes the last Run performed.
	Passes() int
}
