// Package scheduler drives a build to completion. It repeatedly sweeps the
// identifiers in index order and executes every one whose dependencies are
// done, until all are done or a sweep makes no progress.
package scheduler
