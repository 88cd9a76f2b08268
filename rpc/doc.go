// Package rpc provides a comprehensive framework for remote procedure calls
// between dSlab nodes. It acts as the communication layer
// between clients and servers, enabling operations across network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC client implementing slab.IService, allowing applications and the
//     replication coordinator to use remote slabs transparently.
//
//   - server: RPC server components that handle incoming requests, including
//     the slab adapter, the shard setup and the replication coordinators.
package rpc
