// Package client implements the RPC client of dSlab.
// It provides an implementation of the slab.IService interface that forwards
// every operation to a shard of a remote server via RPC, so that remote slabs
// can be used exactly like local ones (e.g. as replication peers).
//
// The package focuses on:
//   - Transparent RPC access to slab services
//   - Integration with the transport and serialization layers
//   - Error handling: errors of the remote slab arrive as *slab.Error with their return code,
//     so errors.Is works with the sentinels of the slab and record packages
//
// Key Components:
//
//   - NewRPCSlab: Factory function that creates a client implementing the slab.IService
//     interface. This client forwards all operations to remote servers via the configured
//     transport layer.
//
//   - NewProvisioner: Connects to the same shard on a list of peers and returns a
//     replication.ServiceProvisioner for the replication coordinator.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	// Create slab client
//	svc, _ := client.NewRPCSlab(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//
//	// Use the slab
//	id, _ := svc.Create(map[string]record.Value{"name": record.String("alice")})
//	memo, _ := svc.Set(id, map[string]record.Value{"age": record.Number(42)})
//	value, _ := svc.Value(id)
//
// Performance Considerations:
//
//   - Increasing ConnectionsPerEndpoint can improve throughput for many concurrent requests.
//
//   - The choice of serializer affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
