// Package slab provides dSlab's storage node and the service interface used
// to access it locally, through raft or over RPC.
//
// The package focuses on:
//   - The Slab type, which implements record.Node: it allocates record ids,
//     stores records and owns the peering table
//   - A unified interface (IService) for all record operations across
//     different deployments
//   - Unified error handling through return codes that survive the RPC layer
//
// Key Components:
//
//   - Slab: The storage node. Besides delegating to the records it keeps
//     intake counters (memos received, redundant and buffered) in a
//     per-slab VictoriaMetrics set and can save and load snapshots of all
//     records, memo logs and peerings.
//
//   - IService Interface: The core abstraction for interacting with a slab.
//     All implementations share this interface, so applications can switch
//     between a local and a replicated slab without code changes.
//
//   - Error System: Errors crossing a process boundary are converted into
//     *Error values carrying a RetCode (see ToError). Their Unwrap method
//     returns the matching sentinel of this package or of the record
//     package, so callers can keep using errors.Is.
//
// Implementations:
//
//	The package includes two implementations of the IService interface:
//
//	- Local Slab (lslab): Directly wraps a Slab. Suitable for single node
//	  deployments and tests.
//	  Available in the "github.com/ValentinKolb/dSlab/lib/slab/lslab" package.
//
//	- Raft Slab (rslab): Runs the slab inside a Dragonboat state machine so
//	  that a group of processes shares one logical slab with strong
//	  consistency guarantees.
//	  Available in the "github.com/ValentinKolb/dSlab/lib/slab/rslab" package.
package slab
