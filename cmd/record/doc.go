// Package record implements the "dslab record" command group. It connects to a
// shard of a dSlab server via RPC and exposes the slab operations (create, set,
// get, envelope, eviction, ...) plus a perf command for benchmarking a server.
package record
