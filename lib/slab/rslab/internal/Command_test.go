package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Command with record and value",
			command: Command{
				Type:   CommandTSet,
				Record: "a.1",
				Value:  []byte(`{"k":{"s":"v"}}`),
			},
			expected: 1 + 8 + 4 + 3 + 15, // Type + Arg + RecordLen + Record + Value
		},
		{
			name: "Create without record",
			command: Command{
				Type:  CommandTCreate,
				Value: []byte(`{}`),
			},
			expected: 1 + 8 + 4 + 0 + 2,
		},
		{
			name: "Header only",
			command: Command{
				Type:   CommandTTryRetire,
				Record: "",
			},
			expected: 13,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Set with payload",
			command: Command{
				Type:   CommandTSet,
				Record: "3w5e11264sgsg.1",
				Value:  []byte(`{"a":{"n":1}}`),
			},
		},
		{
			name: "Target without payload",
			command: Command{
				Type:   CommandTSetTargetReplicas,
				Arg:    3,
				Record: "a.1",
			},
		},
		{
			name: "Evicting flag",
			command: Command{
				Type:   CommandTSetEvicting,
				Arg:    1,
				Record: "a.2",
			},
		},
		{
			name: "Node id as argument",
			command: Command{
				Type:   CommandTNoteReplicaRequested,
				Arg:    18446744073709551615, // Max uint64
				Record: "a.3",
			},
		},
		{
			name: "Create with empty record",
			command: Command{
				Type:  CommandTCreate,
				Value: []byte(`{"$child":{"r":"a.1"}}`),
			},
		},
		{
			name: "Empty value",
			command: Command{
				Type:   CommandTImport,
				Record: "a.1",
				Value:  []byte{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Arg != tt.command.Arg {
				t.Errorf("Arg mismatch: got %v, want %v", newCommand.Arg, tt.command.Arg)
			}
			if newCommand.Record != tt.command.Record {
				t.Errorf("Record mismatch: got %q, want %q", newCommand.Record, tt.command.Record)
			}
			if len(tt.command.Value) == 0 {
				if len(newCommand.Value) != 0 {
					t.Errorf("Value should be empty, got %v", newCommand.Value)
				}
			} else if !bytes.Equal(newCommand.Value, tt.command.Value) {
				t.Errorf("Value mismatch: got %s, want %s", newCommand.Value, tt.command.Value)
			}

			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d", tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Shorter than header",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid record length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTSet)
				binary.BigEndian.PutUint32(data[9:13], 1000)
				return data
			}(),
			expectedErr: "data too short for record id of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:   CommandTSetTargetReplicas,
		Arg:    12345,
		Record: "a.1",
		Value:  []byte("xy"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTSetTargetReplicas)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint32(expected[9:13], 3)
	copy(expected[13:16], "a.1")
	copy(expected[16:], "xy")

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

func TestCommandTypeString(t *testing.T) {
	if CommandTTryRetire.String() != "TryRetire" {
		t.Errorf("unexpected name %q", CommandTTryRetire.String())
	}
	if CommandType(200).String() != "Unknown(200)" {
		t.Errorf("unexpected name %q", CommandType(200).String())
	}
}
