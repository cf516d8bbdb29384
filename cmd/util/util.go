package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/ValentinKolb/dSync/rpc/transport/tcp"
	"github.com/ValentinKolb/dSync/rpc/transport/unix"
	"github.com/ValentinKolb/dSync/rpc/transport/ws"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of environment variables, e.g. DSYNC_ENDPOINT
	EnvPrefix = "dsync"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and binds environment variables with the
// DSYNC_ prefix, e.g. DSYNC_RECONNECT_MAX_MS=1000
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds the connection and store flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	def := common.DefaultClientConfig()
	flags := cmd.PersistentFlags()

	key := "endpoint"
	flags.String(key, def.Transport.Endpoint, WrapString("The address of the dSync server (e.g. localhost:8080, /tmp/dsync.sock, ws://localhost:8080/)"))

	key = "connect-timeout"
	flags.Int(key, def.ConnectTimeoutSecond, WrapString("Timeout in seconds of a single connection attempt"))

	key = "write-timeout"
	flags.Int(key, def.Transport.WriteTimeoutSecond, WrapString("Timeout in seconds of a single frame write"))

	key = "reconnect-initial-ms"
	flags.Int(key, def.ReconnectInitialMs, WrapString("Initial delay between reconnect attempts in milliseconds, doubled on every failure"))

	key = "reconnect-max-ms"
	flags.Int(key, def.ReconnectMaxMs, WrapString("Maximum delay between reconnect attempts in milliseconds"))

	key = "reconnect-attempts"
	flags.Int(key, def.ReconnectAttempts, WrapString("Consecutive failed attempts before giving up (0 retries forever)"))

	key = "send-queue"
	flags.Int(key, def.SendQueueSize, WrapString("Number of messages buffered for sending"))

	key = "transport-write-buffer"
	flags.Int(key, 0, WrapString("The size of the socket write buffer (in KB, 0 keeps the os default)"))

	key = "transport-read-buffer"
	flags.Int(key, 0, WrapString("The size of the socket read buffer (in KB, 0 keeps the os default)"))

	key = "transport-tcp-nodelay"
	flags.Bool(key, def.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	flags.Int(key, def.Transport.TCPKeepAliveSec, WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "transport-tcp-linger"
	flags.Int(key, def.Transport.TCPLingerSec, WrapString("The linger time in seconds, negative keeps the os default (only for tcp)"))

	key = "user"
	flags.String(key, def.Store.User, WrapString("Name appended to the versions of local writes"))

	key = "sync-timeout"
	flags.Duration(key, def.Store.SyncTimeout, WrapString("Time after which a sync is resolved anyway"))

	key = "read-timeout"
	flags.Duration(key, def.Store.ReadTimeout, WrapString("Time after which writes still waiting for the first read are reported"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig()

	conf.Transport.Transport = viper.GetString("transport")
	conf.Transport.Serializer = viper.GetString("serializer")
	conf.Transport.Endpoint = viper.GetString("endpoint")
	conf.Transport.WriteTimeoutSecond = viper.GetInt("write-timeout")
	conf.Transport.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}
	conf.Transport.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
	}

	conf.ConnectTimeoutSecond = viper.GetInt("connect-timeout")
	conf.ReconnectInitialMs = viper.GetInt("reconnect-initial-ms")
	conf.ReconnectMaxMs = viper.GetInt("reconnect-max-ms")
	conf.ReconnectAttempts = viper.GetInt("reconnect-attempts")
	conf.SendQueueSize = viper.GetInt("send-queue")

	conf.Store.User = viper.GetString("user")
	conf.Store.SyncTimeout = viper.GetDuration("sync-timeout")
	conf.Store.ReadTimeout = viper.GetDuration("read-timeout")

	return conf
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	s, err := serializer.New(viper.GetString("serializer"))
	if err != nil {
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
	return s, nil
}

// GetTransport creates the client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "ws":
		return ws.NewWSClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "ws":
		return ws.NewWSServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// ParseValue parses a command line value as JSON, falling back to a string
func ParseValue(text string) any {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text
	}
	return value
}

// PrintJSON prints value as a single line of JSON
func PrintJSON(value any) {
	data, err := json.Marshal(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode %v: %v\n", value, err)
		return
	}
	fmt.Println(string(data))
}

// PrintSnapshot prints a record snapshot with a timestamp
func PrintSnapshot(s store.Snapshot) {
	data, _ := json.Marshal(s.Data)
	fmt.Printf("%s  %-8s %-28s %s\n", time.Now().Format("15:04:05.000"), s.State, s.Version, data)
}
