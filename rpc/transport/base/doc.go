// Package base provides a foundation for stream transports, implementing the
// framing independent of the specific network protocol (TCP, Unix sockets).
// Protocol specific connectors extend it.
//
// Frame format:
//
//	[length:4 big endian][payload]
//
// Frames larger than MaxFrameSize are rejected on both ends.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - frameConn: IFrameConn on top of a net.Conn. Reads are buffered, writes
//     are serialized by a mutex and combine header and payload into a single
//     write using net.Buffers.
//
//   - clientTransport: dials a single link and applies the connector's options.
//
//   - serverTransport: accepts links and runs the handler for each in its own
//     goroutine. Close stops accepting and closes every open link.
package base
