// Package client connects the record store to a server over one of the rpc
// transports.
//
// Key Components:
//
//   - Connection: implements protocol.IConnection. It keeps a single ordered
//     link, serializes outgoing messages from a bounded queue in a writer
//     goroutine and decodes incoming frames in a reader goroutine. Broken links
//     are redialed with an exponential backoff (ReconnectInitialMs doubling up
//     to ReconnectMaxMs, 10% jitter). After ReconnectAttempts consecutive
//     failures the connection gives up in StateError.
//
//   - RecordClient: a store.Store bound to its own Connection.
//
// Messages queued while a link breaks are dropped. The store resubscribes and
// replays its writes once the next link is open, so nothing is lost.
//
// Usage Example:
//
//	cfg := common.DefaultClientConfig()
//	cfg.Transport.Endpoint = "localhost:8080"
//
//	c := client.NewRecordClient(cfg, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer(), nil)
//	defer c.Close()
//
//	o, _ := c.Observe(ctx, "device/1", store.ObserveOptions{Path: "status"})
//	for status := range o.C() {
//		fmt.Println(status)
//	}
//
// Thread Safety:
//
//	Connection and RecordClient are safe for concurrent use.
package client
