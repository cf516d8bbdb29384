// Package rpc connects record stores to the record server. It is the
// communication layer between clients and the server.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures and logging used across the RPC system.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, WebSocket).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between protocol messages and frames.
//
//   - client: The persistent client connection with reconnects and the record
//     client that binds a store to it.
//
//   - server: The record server and its hub, which keeps the authoritative
//     version of every record and negotiates providers.
package rpc
