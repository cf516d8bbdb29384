package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server serving a Hub
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:    config,
		transport: transport,
		hub:       NewHub(serializer),
	}
}

// RPCServer serves a Hub over a transport
type RPCServer struct {
	config        common.ServerConfig
	transport     transport.IRPCServerTransport
	hub           *Hub
	mu            sync.Mutex
	metricsServer *http.Server
}

// Hub returns the hub served by s
func (s *RPCServer) Hub() *Hub {
	return s.hub
}

// Addr returns the address the transport is bound to, nil while not listening
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Serve starts the metrics endpoint (if configured) and the transport layer.
// It blocks until Close is called.
func (s *RPCServer) Serve() error {
	s.transport.RegisterHandler(s.hub.ServeLink)

	if s.config.MetricsEndpoint != "" {
		if err := s.serveMetrics(); err != nil {
			return err
		}
	}

	return s.transport.Listen(s.config)
}

// Close stops the transport, every session and the metrics endpoint
func (s *RPCServer) Close() error {
	err := s.transport.Close()
	s.hub.Close()

	s.mu.Lock()
	metricsServer := s.metricsServer
	s.mu.Unlock()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(ctx); err == nil {
			err = shutdownErr
		}
	}
	return err
}

// serveMetrics exposes hub and process metrics on /metrics
func (s *RPCServer) serveMetrics() error {
	listener, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		s.hub.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	metricsServer := &http.Server{Handler: mux}
	s.mu.Lock()
	s.metricsServer = metricsServer
	s.mu.Unlock()

	go func() {
		Logger.Infof("serving metrics on http://%s/metrics", listener.Addr())
		if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics server failed: %v", err)
		}
	}()
	return nil
}
