package ws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// clientTransport dials websocket links
type clientTransport struct{}

// NewWSClientTransport creates a new websocket client transport
func NewWSClientTransport() transport.IRPCClientTransport {
	return &clientTransport{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) GetName() string {
	return "ws"
}

func (t *clientTransport) Dial(ctx context.Context, config common.ClientConfig) (transport.IFrameConn, error) {
	if config.Transport.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint provided")
	}
	url := endpointURL(config.Transport.Endpoint)

	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Duration(config.ConnectTimeoutSecond) * time.Second,
		ReadBufferSize:   config.Transport.ReadBufferSize,
		WriteBufferSize:  config.Transport.WriteBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	Logger.Debugf("connected to %s using ws transport", url)
	return newConn(conn, config.Transport.WriteTimeout()), nil
}

// endpointURL turns host:port into a websocket url, urls are kept as they are
func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + "/"
}
