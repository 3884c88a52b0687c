// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// # Characteristics
//
//   - **Ephemeral:** Created fresh for each build, not persistent
//   - **Thread-Safe:** Uses sync.Map for concurrent access without a global lock
//   - **Fast Lookups:** O(1) average case for status/output/error retrieval
//
// sync.Map suits this workload: the key space is known upfront (every
// identifier of the aggregated context) while values change as the build
// progresses.
package inmemorystore
