// Package server implements the server side of the record sync protocol: an
// in-memory Hub and the RPCServer that serves it over a transport.
//
// The hub is a reference upstream for clients and tests. It does not persist
// anything.
//
// Key Components:
//
//   - Hub: keeps the latest version of every record. SUBSCRIBE and READ are
//     answered with the current UPDATE, writes are accepted if their version
//     is newer and fanned out to every subscriber. SYNC is echoed after every
//     earlier message of the same link was handled.
//
//   - Providers: LISTEN registers a pattern. A subscribed name without
//     provider is offered to the first matching listener: multicast listeners
//     get SUBSCRIPTION_FOR_PATTERN_FOUND and must accept, unicast listeners are
//     assigned with LISTEN_ACCEPT right away. A declined name moves on to the
//     next listener. At most one listener provides a name at a time, and only
//     that listener may write INF versions to it.
//
//   - RPCServer: registers the hub as transport handler and optionally serves
//     prometheus metrics on MetricsEndpoint.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Transport: common.TransportConf{Transport: "tcp", Endpoint: ":8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
package server
