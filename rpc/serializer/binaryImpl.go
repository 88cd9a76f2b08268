package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dSlab/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasRecordID byte = 1 << 0
	hasSeq      byte = 1 << 1
	hasArg      byte = 1 << 2
	hasValue    byte = 1 << 3
	hasOk       byte = 1 << 4
	hasErr      byte = 1 << 5
	hasMeta     byte = 1 << 6
	hasCode     byte = 1 << 7
)

// header: 1 byte MsgType + 1 byte flags
const binaryHeaderSize = 2

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	pos := binaryHeaderSize

	if msg.RecordID != "" {
		flags |= hasRecordID
		pos = putBytes(result, pos, []byte(msg.RecordID))
	}
	if msg.Seq > 0 {
		flags |= hasSeq
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Seq)
		pos += 8
	}
	if msg.Arg > 0 {
		flags |= hasArg
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Arg)
		pos += 8
	}
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}
	// presence of the flag is the value, no payload byte needed
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		pos = putBytes(result, pos, msg.Meta)
	}
	if msg.Code > 0 {
		flags |= hasCode
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Code)
	}

	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < binaryHeaderSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	pos := binaryHeaderSize

	var (
		raw []byte
		err error
	)

	msg.RecordID = ""
	if flags&hasRecordID != 0 {
		if raw, pos, err = readBytes(data, pos, "record id"); err != nil {
			return err
		}
		msg.RecordID = string(raw)
	}

	msg.Seq = 0
	if flags&hasSeq != 0 {
		if msg.Seq, pos, err = readUint64(data, pos, "seq"); err != nil {
			return err
		}
	}

	msg.Arg = 0
	if flags&hasArg != 0 {
		if msg.Arg, pos, err = readUint64(data, pos, "arg"); err != nil {
			return err
		}
	}

	msg.Value = nil
	if flags&hasValue != 0 {
		if raw, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
		// copy, the input buffer may be reused by the transport
		msg.Value = append(make([]byte, 0, len(raw)), raw...)
	}

	msg.Ok = flags&hasOk != 0

	msg.Err = ""
	if flags&hasErr != 0 {
		if raw, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	}

	msg.Meta = nil
	if flags&hasMeta != 0 {
		if raw, pos, err = readBytes(data, pos, "meta"); err != nil {
			return err
		}
		msg.Meta = append(make([]byte, 0, len(raw)), raw...)
	}

	msg.Code = 0
	if flags&hasCode != 0 {
		if msg.Code, _, err = readUint64(data, pos, "code"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := binaryHeaderSize

	if msg.RecordID != "" {
		size += 4 + len(msg.RecordID)
	}
	if msg.Seq > 0 {
		size += 8
	}
	if msg.Arg > 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	if msg.Code > 0 {
		size += 8
	}

	return size
}

// putBytes writes a length prefixed byte slice and returns the new position
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	copy(dst[pos:pos+len(src)], src)
	return pos + len(src)
}

// readBytes reads a length prefixed byte slice (without copying it)
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}

func readUint64(data []byte, pos int, field string) (uint64, int, error) {
	if pos+8 > len(data) {
		return 0, pos, fmt.Errorf("data too short for %s", field)
	}
	return binary.BigEndian.Uint64(data[pos : pos+8]), pos + 8, nil
}
