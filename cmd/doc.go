// Package cmd implements the command-line interface of dSync. It provides a
// hierarchical command structure for running the record server and for
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - record: Commands working on records (get, set, incr, observe, sync, provide, stats, perf)
//   - serve: Commands for starting and configuring the dSync server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dsync -help for a list of all commands.
package cmd
