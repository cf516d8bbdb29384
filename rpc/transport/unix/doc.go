// Package unix implements the record sync transport over Unix domain sockets
// for clients running on the same machine as the hub.
//
// It provides the connectors for the base package. The server removes a stale
// socket file before listening.
package unix
