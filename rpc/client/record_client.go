package client

import (
	"io"

	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
)

// RecordClient is a record store bound to its own connection
type RecordClient struct {
	*store.Store
	conn *Connection
}

// NewRecordClient creates a connection for config and a record store on top of it.
// Faults of both are delivered to sink.
//
// Usage:
//
//	c := client.NewRecordClient(
//		common.DefaultClientConfig(),
//		tcp.NewTCPClientTransport(),
//		serializer.NewBinarySerializer(),
//		nil,
//	)
//	defer c.Close()
//
//	_ = c.Set("user/1", "name", "ada")
//	name, err := c.Get(ctx, "user/1", store.ObserveOptions{Path: "name"})
func NewRecordClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	sink protocol.ErrorSink,
) *RecordClient {
	conn := NewConnection(config, transport, serializer, sink)
	return &RecordClient{
		Store: store.New(conn, config.Store),
		conn:  conn,
	}
}

// Connection returns the connection of the client
func (c *RecordClient) Connection() *Connection {
	return c.conn
}

// WritePrometheus writes the store and connection metrics
func (c *RecordClient) WritePrometheus(w io.Writer) {
	c.Store.WritePrometheus(w)
	c.conn.WritePrometheus(w)
}

// Close closes the store and then the connection
func (c *RecordClient) Close() error {
	err := c.Store.Close()
	if connErr := c.conn.Close(); err == nil {
		err = connErr
	}
	return err
}
