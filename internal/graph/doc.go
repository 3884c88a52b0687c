// Package graph provides a unified facade over one build, combining the
// aggregated context (identifiers, blocks, options) with the execution state
// of every identifier.
//
// # Why Graph Package Exists
//
// The scheduler and executor would otherwise have to coordinate two stores:
// topologystore for structure and nodestore for state. The Graph interface
// hides that split behind one API, and it is where a Task is derived from
// an identifier's blocks and merged options.
//
// # Architecture: The Facade Pattern
//
//	┌─────────────────────────────────────┐
//	│           Graph Facade              │
//	│  (scheduler + executor entrypoint)  │
//	└──────────┬────────────┬─────────────┘
//	           │            │
//	           ▼            ▼
//	  ┌────────────┐  ┌────────────┐
//	  │  Topology  │  │ Node State │
//	  │   Store    │  │   Store    │
//	  │ (Context)  │  │  (Status)  │
//	  └────────────┘  └────────────┘
//
// **Topology Store** (topologystore.Store):
//   - Blocks by identifier and merged options by identifier
//   - Populated by the loader, read-only during scheduling
//   - Queried by: IDs(), Task(), DependenciesOf()
//
// **Node Store** (nodestore.Store):
//   - Status, output and error per identifier
//   - Updated by: MarkDone(), MarkFailed()
//   - Queried by: Status(), Output(), Ready(), Pending()
//
// # Usage Patterns
//
// **Scheduler** walks identifiers every pass:
//
//	for _, id := range g.IDs(ctx) {
//	    if g.Status(ctx, id) == nodestore.StatusDone {
//	        continue
//	    }
//	    if ready, _ := g.Ready(ctx, id); !ready {
//	        continue
//	    }
//	    t, _ := g.Task(ctx, id)
//	    // execute t, then MarkDone or MarkFailed
//	}
//
// # Thread-Safety
//
// All Graph methods are thread-safe. Thread-safety is guaranteed by delegating
// to the underlying thread-safe stores.
package graph
