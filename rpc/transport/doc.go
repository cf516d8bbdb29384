// Package transport defines how frames travel between a client connection and
// the server. Implementations live in sub packages:
//
//   - base: length prefixed frames over any net.Conn, extended by tcp and unix
//   - tcp: tcp sockets with socket and tcp options
//   - unix: unix domain sockets for local communication
//   - ws: websocket links using gorilla/websocket, one binary message per frame
//
// Key Components:
//
//   - IFrameConn: a single ordered link. A client keeps exactly one open and
//     redials it when it breaks.
//
//   - IRPCClientTransport: dials links.
//
//   - IRPCServerTransport: accepts links and hands each to a ServerHandleFunc.
package transport
