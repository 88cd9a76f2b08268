// Package rslab implements slab.IService on top of a Dragonboat raft shard.
//
// Every replica of the shard runs a SlabStateMachine holding the same slab.
// Write operations (Create, Set, ApplyMemo, Import, peering and controller
// changes) are proposed to the shard and applied in log order, so all
// replicas allocate the same record ids and reach the same values. Read
// operations use linearizable reads, except Info which allows stale reads.
//
// Snapshots of the state machine are slab snapshots (see slab.Slab.Save).
package rslab
