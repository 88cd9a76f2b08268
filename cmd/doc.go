// Package cmd implements the command-line interface of dSlab. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - record: Commands for record operations (create, set, get, evict, ...) and benchmarks
//   - serve: Commands for starting and configuring the dSlab server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dslab -help for a list of all commands.
package cmd
