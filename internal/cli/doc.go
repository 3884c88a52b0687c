// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates flags, LITWEAVE_* environment variables and the optional
// .litweave.yaml file into the application's configuration.
//
// Exit codes: 0 on success, 1 for build failures, 2 for usage errors.
package cli
