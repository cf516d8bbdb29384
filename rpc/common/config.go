package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dSync/lib/store"
)

// --------------------------------------------------------------------------
// Shared transport settings
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes in bytes, 0 keeps the os default
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds options only applied to tcp connections
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // negative keeps the os default
}

// TransportConf selects how frames travel between client and server
type TransportConf struct {
	// Transport is one of tcp, unix, ws
	Transport string
	// Serializer is one of binary, json, gob
	Serializer string
	// Endpoint is a host:port, a socket path or a ws:// url (client side)
	Endpoint string
	// WriteTimeoutSecond bounds a single frame write, 0 disables it
	WriteTimeoutSecond int

	SocketConf
	TCPConf
}

// WriteTimeout returns WriteTimeoutSecond as a duration
func (c TransportConf) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSecond) * time.Second
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds the configuration of the reference server
type ServerConfig struct {
	Transport TransportConf

	// MetricsEndpoint serves prometheus metrics over http if set
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addTransport(addField, c.Transport)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of a client connection and its store
type ClientConfig struct {
	Transport TransportConf

	// ConnectTimeoutSecond bounds a single dial, 0 disables it
	ConnectTimeoutSecond int

	// Reconnect backoff: the delay starts at ReconnectInitialMs and doubles
	// up to ReconnectMaxMs. ReconnectAttempts caps consecutive failures,
	// 0 retries forever.
	ReconnectInitialMs int
	ReconnectMaxMs     int
	ReconnectAttempts  int

	// SendQueueSize is the number of frames buffered while the link is busy
	SendQueueSize int

	// Store configures the record store of NewRecordClient
	Store store.Config
}

// DefaultClientConfig returns a client configuration for a local tcp server
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport: TransportConf{
			Transport:          "tcp",
			Serializer:         "binary",
			Endpoint:           "localhost:8080",
			WriteTimeoutSecond: 10,
			TCPConf:            TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
		ConnectTimeoutSecond: 5,
		ReconnectInitialMs:   50,
		ReconnectMaxMs:       5000,
		SendQueueSize:        4096,
		Store:                store.DefaultConfig(),
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addTransport(addField, c.Transport)
	addField("Connect Timeout", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))

	addSection("Reconnect")
	addField("Initial Backoff", fmt.Sprintf("%d ms", c.ReconnectInitialMs))
	addField("Max Backoff", fmt.Sprintf("%d ms", c.ReconnectMaxMs))
	if c.ReconnectAttempts > 0 {
		addField("Attempts", strconv.Itoa(c.ReconnectAttempts))
	} else {
		addField("Attempts", "unlimited")
	}
	addField("Send Queue", strconv.Itoa(c.SendQueueSize))

	sb.WriteString(c.Store.String())
	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func addTransport(addField func(name, value string), c TransportConf) {
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Endpoint", c.Endpoint)
	addField("Write Timeout", fmt.Sprintf("%d sec", c.WriteTimeoutSecond))
	if c.WriteBufferSize > 0 || c.ReadBufferSize > 0 {
		addField("Socket Buffers", fmt.Sprintf("w=%d r=%d", c.WriteBufferSize, c.ReadBufferSize))
	}
	if c.Transport == "tcp" {
		addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
		addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPLingerSec))
	}
}
