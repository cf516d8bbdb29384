package transport_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/ValentinKolb/dSync/rpc/transport/tcp"
	"github.com/ValentinKolb/dSync/rpc/transport/unix"
	"github.com/ValentinKolb/dSync/rpc/transport/ws"
)

// startEcho serves a handler writing every frame back and waits until the
// server is bound
func startEcho(t *testing.T, server transport.IRPCServerTransport, config common.ServerConfig) net.Addr {
	t.Helper()

	server.RegisterHandler(func(conn transport.IFrameConn) {
		for {
			data, err := conn.ReadFrame()
			if err != nil {
				return
			}
			if err := conn.WriteFrame(data); err != nil {
				return
			}
		}
	})

	result := make(chan error, 1)
	go func() { result <- server.Listen(config) }()

	t.Cleanup(func() {
		if err := server.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.Errorf("close failed: %v", err)
		}
		select {
		case err := <-result:
			if err != nil {
				t.Errorf("listen returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("listen did not return after close")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := server.Addr(); addr != nil {
			return addr
		}
		select {
		case err := <-result:
			t.Fatalf("listen failed: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Fatalf("server did not start")
	return nil
}

func TestTransports(t *testing.T) {
	tests := []struct {
		name     string
		server   func() transport.IRPCServerTransport
		client   func() transport.IRPCClientTransport
		endpoint func(t *testing.T) string
	}{
		{
			name:     "tcp",
			server:   tcp.NewTCPServerTransport,
			client:   tcp.NewTCPClientTransport,
			endpoint: func(t *testing.T) string { return "127.0.0.1:0" },
		},
		{
			name:     "unix",
			server:   unix.NewUnixServerTransport,
			client:   unix.NewUnixClientTransport,
			endpoint: func(t *testing.T) string { return filepath.Join(t.TempDir(), "dsync.sock") },
		},
		{
			name:     "ws",
			server:   ws.NewWSServerTransport,
			client:   ws.NewWSClientTransport,
			endpoint: func(t *testing.T) string { return "127.0.0.1:0" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverConfig := common.ServerConfig{
				Transport: common.TransportConf{
					Transport:          tt.name,
					Endpoint:           tt.endpoint(t),
					WriteTimeoutSecond: 5,
					TCPConf:            common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
				},
			}
			server := tt.server()
			addr := startEcho(t, server, serverConfig)

			clientConfig := common.DefaultClientConfig()
			clientConfig.Transport.Transport = tt.name
			clientConfig.Transport.Endpoint = addr.String()

			client := tt.client()
			if client.GetName() != tt.name {
				t.Fatalf("got name %q, want %q", client.GetName(), tt.name)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			conn, err := client.Dial(ctx, clientConfig)
			if err != nil {
				t.Fatalf("dial failed: %v", err)
			}
			defer conn.Close()

			for _, payload := range []string{"hello", "", "world"} {
				if err := conn.WriteFrame([]byte(payload)); err != nil {
					t.Fatalf("write failed: %v", err)
				}
				data, err := conn.ReadFrame()
				if err != nil {
					t.Fatalf("read failed: %v", err)
				}
				if string(data) != payload {
					t.Fatalf("got %q, want %q", data, payload)
				}
			}

			// closing the server closes open links
			if err := server.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				t.Fatalf("close failed: %v", err)
			}
			if _, err := conn.ReadFrame(); err == nil {
				t.Fatalf("expected read to fail after server close")
			}
		})
	}
}

func TestDialWithoutEndpoint(t *testing.T) {
	for _, client := range []transport.IRPCClientTransport{
		tcp.NewTCPClientTransport(),
		unix.NewUnixClientTransport(),
		ws.NewWSClientTransport(),
	} {
		t.Run(client.GetName(), func(t *testing.T) {
			config := common.DefaultClientConfig()
			config.Transport.Endpoint = ""
			if _, err := client.Dial(context.Background(), config); err == nil {
				t.Fatalf("expected dial without endpoint to fail")
			}
		})
	}
}
