// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the build lifecycle, decoupled from any
// specific entrypoint like a CLI or server.
//
// One App owns its logger, its Prometheus registry and its session starter.
// Nothing is global, so several apps can run side by side in one process,
// which the tests rely on.
package app
