// Package serializer encodes protocol messages for the wire. It defines a
// common interface and multiple implementations used by the transports on
// both ends of a connection.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A four byte header carries the
//     topic, the action and the number of data fields, followed by the length
//     prefixed fields. Smallest and fastest, used by default.
//
//   - jsonSerializerImpl: JSON encoding with topics and actions as their wire
//     names. Useful for debugging and for the websocket transport.
//
//   - gobSerializerImpl: Go's gob encoding. Larger frames, kept for compatibility.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.New("binary")
//	data, err := s.Serialize(protocol.NewSubscribe("user/1"))
//	// ... send data ...
//	var msg protocol.Message
//	err = s.Deserialize(data, &msg)
package serializer
