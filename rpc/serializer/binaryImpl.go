package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dSync/lib/protocol"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	[topic:1][action:1][count:2] then per field [length:4][bytes]
type binarySerializerImpl struct {
}

const (
	headerSize    = 4
	maxFieldCount = 1<<16 - 1
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg protocol.Message) ([]byte, error) {
	if len(msg.Data) > maxFieldCount {
		return nil, fmt.Errorf("too many data fields: %d", len(msg.Data))
	}

	result := make([]byte, b.sizeBytes(msg))

	result[0] = byte(msg.Topic)
	result[1] = byte(msg.Action)
	binary.BigEndian.PutUint16(result[2:4], uint16(len(msg.Data)))

	pos := headerSize
	for _, field := range msg.Data {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(field)))
		pos += 4
		pos += copy(result[pos:], field)
	}

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *protocol.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.Topic = protocol.Topic(data[0])
	msg.Action = protocol.Action(data[1])
	if msg.Topic == protocol.TopicUnknown || msg.Topic > protocol.TopicConnection {
		return fmt.Errorf("unknown topic: %d", data[0])
	}

	// fields are never reused, handlers may keep them
	count := int(binary.BigEndian.Uint16(data[2:4]))
	msg.Data = nil
	if count > 0 {
		msg.Data = make([]string, count)
	}

	pos := headerSize
	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for length of field %d", i)
		}
		fieldLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4

		if fieldLen > len(data)-pos {
			return fmt.Errorf("data too short for field %d", i)
		}
		msg.Data[i] = string(data[pos : pos+fieldLen])
		pos += fieldLen
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg protocol.Message) int {
	size := headerSize
	for _, field := range msg.Data {
		size += 4 + len(field)
	}
	return size
}
