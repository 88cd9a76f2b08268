// Package server implements the RPC server of dSlab.
// It serves one slab per shard and translates RPC requests into calls of the
// slab.IService of the shard.
//
// The package focuses on:
//   - Server-side RPC request handling for all slab operations
//   - Adapter pattern to decouple the slab from the RPC mechanisms
//   - Flexible shard configuration with support for local and raft replicated slabs
//   - Running the replication coordinators that keep records at their target replica count
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a slab.IService.
//
//   - NewSlabServerAdapter: Factory function creating an adapter for the slab
//     operations. Errors are returned with the return code of the slab so that
//     clients can rebuild them.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms. WithPeers sets the resolver used to start
//     a replication coordinator per shard.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  NodeName: "node-1",
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalSlab},
//	  },
//	  TimeoutSecond: 5,
//	  Transport: common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  Record: record.DefaultOptions(),
//	  LogLevel: "info",
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports two types of shards, which can be mixed within a single server:
//
//   - ShardTypeLocalSlab: A slab living only in this process. Its node id is derived
//     from "<NodeName>/<ShardID>". Durability comes from replicas on peer servers.
//
//   - ShardTypeReplicatedSlab: A slab replicated with Raft, all replicas of the shard
//     serve the same slab "raft/<ShardID>". When using this type, the RAFT configuration
//     (RTTMillisecond, SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and
//     ClusterMembers) must be properly configured.
//
// Metrics:
//
//	The server registers a metrics function with the transport. It writes the process
//	metrics, the counters of every slab and the coordinator metrics in the Prometheus
//	text format. Only the http transport serves them (GET /metrics).
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Each request is processed independently.
//	Serve is not thread-safe and should be called only once.
package server
