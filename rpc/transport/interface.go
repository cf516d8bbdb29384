package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dSync/rpc/common"
)

// --------------------------------------------------------------------------
// Frame Connection
// --------------------------------------------------------------------------

// IFrameConn is a single ordered, bidirectional link carrying serialized
// messages. Frames are delivered in the order they were written.
type IFrameConn interface {
	// WriteFrame writes one frame. It is safe for concurrent use.
	WriteFrame(data []byte) error
	// ReadFrame blocks until the next frame arrived. It must only be called
	// from a single goroutine. The returned slice is owned by the caller.
	ReadFrame() ([]byte, error)
	// RemoteAddr describes the other end of the link
	RemoteAddr() string
	// Close closes the link, a blocked ReadFrame returns an error
	Close() error
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is called in its own goroutine for every accepted link.
// The link is closed once it returns.
type ServerHandleFunc func(conn IFrameConn)

// IRPCServerTransport is the interface for the server side of a transport
type IRPCServerTransport interface {
	// RegisterHandler registers the handler for accepted links
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the configured endpoint and serves links until Close.
	// It blocks and returns nil after Close.
	Listen(config common.ServerConfig) error
	// Addr returns the bound address, nil while not listening
	Addr() net.Addr
	// Close stops listening and closes every open link
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the client side of a transport
type IRPCClientTransport interface {
	// Dial opens a new link to the configured endpoint
	Dial(ctx context.Context, config common.ClientConfig) (IFrameConn, error)
	// GetName returns the name of the transport, e.g. "tcp"
	GetName() string
}
