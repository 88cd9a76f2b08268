package internal

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed part of a serialized command: type, argument and record id length.
const headerSize = 1 + 8 + 4

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTCreate               CommandType = iota // Create a record hosted by the slab.
	CommandTSet                                     // Issue a memo for a hosted record.
	CommandTApplyMemo                               // Apply a memo received from a host.
	CommandTImport                                  // Import a record shell from an envelope.
	CommandTRegisterPeerings                        // Merge peering entries for a record.
	CommandTSetTargetReplicas                       // Change the target replica count of a record.
	CommandTSetEvicting                             // Set or clear the eviction intent for a record.
	CommandTNoteReplicaRequested                    // Remember a requested replica of a record.
	CommandTTryRetire                               // Retire the slab's copy of a record if possible.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTCreate:
		return "Create"
	case CommandTSet:
		return "Set"
	case CommandTApplyMemo:
		return "ApplyMemo"
	case CommandTImport:
		return "Import"
	case CommandTRegisterPeerings:
		return "RegisterPeerings"
	case CommandTSetTargetReplicas:
		return "SetTargetReplicas"
	case CommandTSetEvicting:
		return "SetEvicting"
	case CommandTNoteReplicaRequested:
		return "NoteReplicaRequested"
	case CommandTTryRetire:
		return "TryRetire"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type   CommandType
	Arg    uint64 // numeric argument (target count, eviction flag, node id)
	Record string // record id (empty for Create)
	Value  []byte // JSON encoded payload (values, memo, envelope or peerings)
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Record) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the numeric argument (big endian),
// 4 bytes for record id length (big endian),
// N bytes for record id,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.Arg)
	binary.BigEndian.PutUint32(result[9:13], uint32(len(command.Record)))

	n := copy(result[headerSize:], command.Record)
	if command.Value != nil {
		copy(result[headerSize+n:], command.Value)
	}
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Arg = binary.BigEndian.Uint64(data[1:9])
	recordLen := int(binary.BigEndian.Uint32(data[9:13]))

	if len(data) < headerSize+recordLen {
		return fmt.Errorf("data too short for record id of length %d", recordLen)
	}
	command.Record = string(data[headerSize : headerSize+recordLen])

	if len(data) > headerSize+recordLen {
		valueLen := len(data) - (headerSize + recordLen)
		// Reuse existing buffer if possible to reduce allocations
		if command.Value == nil || cap(command.Value) < valueLen {
			command.Value = make([]byte, valueLen)
		} else {
			command.Value = command.Value[:valueLen]
		}
		copy(command.Value, data[headerSize+recordLen:])
	} else {
		command.Value = nil
	}

	return nil
}
