// Package tcp implements the TCP transport of the record sync protocol. It
// provides the TCP connectors for the base package, which handles framing
// and link management.
//
// Key Components:
//
//   - clientConnector: dials with a context and applies the TCP options of the
//     client configuration (no delay, keep alive, linger, socket buffers)
//
//   - serverConnector: creates the listener and applies the same options to
//     every accepted connection
package tcp
