// Package cache implements the result cache that lets a rebuild skip
// sessions whose inputs have not changed.
//
// # Layout
//
// A project cache lives in Dir(root, ProjectID(...)) and holds two files:
//
//	build_cache.manifest_v1   one Entry per line, fixed-width columns
//	build_cache.db            bbolt database: bucket "blobs" maps capture
//	                          digest to a codec-tagged compressed capture,
//	                          bucket "meta" records the writing machine
//
// # Keys and invalidation
//
// A task key is a sha1 over the document path, the task content, the
// command and the mtimes of files it names (sessions only) and, for every
// dependency in sorted order, the dependency id and its bound key. Keys are
// bound with Bind as identifiers produce output, so a dependent's key always
// reflects the outputs it consumed. When an identifier is bound with a digest
// that differs from its previous one, the bound keys of everything depending
// on it are forgotten transitively.
//
// # Durability
//
// Flush sorts the manifest, checks that it parses back to the same entries
// and renames a temporary file into place. Corrupt files never fail a build:
// they are moved aside and the run starts cold.
package cache
