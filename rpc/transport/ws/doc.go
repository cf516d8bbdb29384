// Package ws implements the record sync transport over websockets using
// gorilla/websocket. Every frame is sent as one binary message, so no extra
// length prefix is needed.
//
// The client accepts either host:port or a full ws:// or wss:// url as
// endpoint. The server upgrades every request on its listener.
package ws
