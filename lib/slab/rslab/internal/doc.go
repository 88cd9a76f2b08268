// Package internal provides the command and query structures exchanged between
// the rslab service and its raft state machine.
//
// This package is intended for internal use by the rslab implementation and should
// not be imported directly by external code.
//
//   - Command System: Write operations (Create, Set, ApplyMemo, ...) that modify
//     the slab. Commands are serialized, proposed to the raft shard and applied
//     by the state machine in log order.
//
//   - Query System: Read operations (Value, Envelope, Status, ...) that are
//     executed locally on the state machine and therefore not serialized.
//
// Command Format:
//
//	- 1 byte: Command type
//	- 8 bytes: Numeric argument (uint64, big endian)
//	- 4 bytes: Record id length (uint32, big endian)
//	- N bytes: Record id
//	- M bytes: JSON payload (optional)
package internal
