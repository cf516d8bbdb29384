// Package common holds what client and server of the rpc layer share.
//
// Key Components:
//
//   - ClientConfig / ServerConfig: configuration structs with a readable
//     String() form, filled by the cli from flags and environment variables.
//     The client config embeds the record store configuration.
//
//   - TransportConf: transport, serializer, endpoint and socket options.
//
//   - Logger: a logger factory for dragonboats logger package. Every package
//     logs through logger.GetLogger(name); InitLoggers installs the factory
//     and sets the level of every known logger.
package common
