// Package inmemorytopology provides a thread-safe, in-memory implementation
// of the topologystore.Store interface. It folds the blocks of one build and
// is discarded when the build ends.
package inmemorytopology
