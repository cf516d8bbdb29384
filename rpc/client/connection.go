package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

var (
	// ErrNotConnected is returned by Send while the link is down
	ErrNotConnected = errors.New("not connected")

	// ErrQueueFull is returned by Send if the send queue is full
	ErrQueueFull = errors.New("send queue full")

	// ErrConnectionClosed is returned by Send after Close
	ErrConnectionClosed = errors.New("connection closed")
)

var _ protocol.IConnection = (*Connection)(nil)

// Connection implements protocol.IConnection on top of a client transport.
// It keeps one ordered link to the server and reconnects with an exponential
// backoff whenever the link breaks.
type Connection struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	sink       protocol.ErrorSink

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sendQueue chan protocol.Message
	state     atomic.Uint32
	closeOnce sync.Once

	handlerID       atomic.Uint64
	stateHandlers   *xsync.MapOf[uint64, func(protocol.ConnectionState)]
	messageHandlers *xsync.MapOf[uint64, messageHandler]

	metrics *connMetrics
}

type messageHandler struct {
	topic protocol.Topic
	fn    func(protocol.Message)
}

// NewConnection creates a connection and starts connecting in the background.
// Faults are delivered to sink, a nil sink logs them.
func NewConnection(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	sink protocol.ErrorSink,
) *Connection {
	queueSize := config.SendQueueSize
	if queueSize <= 0 {
		queueSize = common.DefaultClientConfig().SendQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		config:          config,
		transport:       transport,
		serializer:      serializer,
		sink:            sink,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		sendQueue:       make(chan protocol.Message, queueSize),
		stateHandlers:   xsync.NewMapOf[uint64, func(protocol.ConnectionState)](),
		messageHandlers: xsync.NewMapOf[uint64, messageHandler](),
		metrics:         newConnMetrics(),
	}
	c.state.Store(uint32(protocol.StateConnecting))

	Logger.Infof("connecting to %s using %s transport", config.Transport.Endpoint, transport.GetName())
	go c.run()
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.IConnection)
// --------------------------------------------------------------------------

func (c *Connection) Send(msg protocol.Message) error {
	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	if !c.State().Connected() {
		c.ReportError(protocol.Errorf(protocol.ErrKindNotConnected, msg.Data, "dropped %s", msg.Action))
		return ErrNotConnected
	}

	select {
	case c.sendQueue <- msg:
		return nil
	default:
		c.metrics.dropped.Inc()
		c.ReportError(protocol.Errorf(protocol.ErrKindConnection, msg.Data, "dropped %s: %v", msg.Action, ErrQueueFull))
		return ErrQueueFull
	}
}

func (c *Connection) State() protocol.ConnectionState {
	return protocol.ConnectionState(c.state.Load())
}

func (c *Connection) OnStateChange(fn func(protocol.ConnectionState)) (remove func()) {
	id := c.handlerID.Add(1)
	c.stateHandlers.Store(id, fn)
	return func() { c.stateHandlers.Delete(id) }
}

func (c *Connection) OnMessage(topic protocol.Topic, fn func(protocol.Message)) (remove func()) {
	id := c.handlerID.Add(1)
	c.messageHandlers.Store(id, messageHandler{topic: topic, fn: fn})
	return func() { c.messageHandlers.Delete(id) }
}

func (c *Connection) ReportError(err *protocol.Error) {
	c.metrics.errors.Inc()
	if c.sink != nil {
		c.sink(err)
		return
	}
	Logger.Warningf("%v", err)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close stops reconnecting, closes the link and moves to StateClosed
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.setState(protocol.StateClosed)
		Logger.Infof("closed connection to %s", c.config.Transport.Endpoint)
	})
	return nil
}

// run dials, serves the link until it breaks and backs off before the next
// attempt. It gives up with StateError once ReconnectAttempts is exhausted.
func (c *Connection) run() {
	defer close(c.done)

	backoff := newBackoff(
		time.Duration(c.config.ReconnectInitialMs)*time.Millisecond,
		time.Duration(c.config.ReconnectMaxMs)*time.Millisecond,
	)
	failures := 0

	for {
		link, err := c.transport.Dial(c.ctx, c.config)
		if c.ctx.Err() != nil {
			if link != nil {
				_ = link.Close()
			}
			return
		}

		if err != nil {
			failures++
			c.ReportError(protocol.Errorf(protocol.ErrKindConnection, []string{c.config.Transport.Endpoint}, "%v", err))
			if c.config.ReconnectAttempts > 0 && failures >= c.config.ReconnectAttempts {
				Logger.Errorf("giving up after %d failed attempts", failures)
				c.setState(protocol.StateError)
				return
			}
		} else {
			failures = 0
			backoff.reset()
			c.serve(link)
			if c.ctx.Err() != nil {
				return
			}
			c.metrics.reconnects.Inc()
		}

		c.setState(protocol.StateReconnecting)
		c.drain()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff.next()):
		}
	}
}

// serve runs the writer and the reader of link until one of them fails
func (c *Connection) serve(link transport.IFrameConn) {
	handleCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	Logger.Infof("connected to %s", link.RemoteAddr())
	c.setState(protocol.StateOpen)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		c.write(handleCtx, link)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		c.read(handleCtx, link)
	}()

	<-handleCtx.Done()
	_ = link.Close()
	wg.Wait()

	if c.ctx.Err() == nil {
		Logger.Warningf("lost connection to %s", link.RemoteAddr())
	}
}

func (c *Connection) write(ctx context.Context, link transport.IFrameConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.sendQueue:
			data, err := c.serializer.Serialize(msg)
			if err != nil {
				c.ReportError(protocol.Errorf(protocol.ErrKindInvalidMessage, msg.Data, "failed to serialize %s: %v", msg.Action, err))
				continue
			}
			if err := link.WriteFrame(data); err != nil {
				if ctx.Err() == nil {
					c.ReportError(protocol.Errorf(protocol.ErrKindConnection, nil, "write failed: %v", err))
				}
				return
			}
			c.metrics.sent.Inc()
		}
	}
}

func (c *Connection) read(ctx context.Context, link transport.IFrameConn) {
	for {
		data, err := link.ReadFrame()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.ReportError(protocol.Errorf(protocol.ErrKindConnection, nil, "read failed: %v", err))
			}
			return
		}

		var msg protocol.Message
		if err := c.serializer.Deserialize(data, &msg); err != nil {
			c.ReportError(protocol.Errorf(protocol.ErrKindMessageParse, nil, "%v", err))
			continue
		}
		c.metrics.received.Inc()
		c.dispatch(msg)
	}
}

// dispatch delivers msg to every handler of its topic
func (c *Connection) dispatch(msg protocol.Message) {
	if msg.Topic == protocol.TopicConnection && msg.Action == protocol.ActionError {
		var fields []string
		if len(msg.Data) > 1 {
			fields = msg.Data[1:]
		}
		c.ReportError(&protocol.Error{
			Topic:   protocol.TopicConnection,
			Kind:    protocol.ErrorKind(msg.Field(0)),
			Err:     errors.New("upstream error"),
			Context: fields,
		})
		return
	}

	handled := false
	c.messageHandlers.Range(func(_ uint64, h messageHandler) bool {
		if h.topic == msg.Topic {
			h.fn(msg)
			handled = true
		}
		return true
	})
	if !handled {
		Logger.Debugf("no handler for %s", msg)
	}
}

// setState stores state and calls the state handlers if it changed
func (c *Connection) setState(state protocol.ConnectionState) {
	if protocol.ConnectionState(c.state.Swap(uint32(state))) == state {
		return
	}
	Logger.Debugf("connection state %s", state)
	c.stateHandlers.Range(func(_ uint64, fn func(protocol.ConnectionState)) bool {
		fn(state)
		return true
	})
}

// drain drops messages queued for a link that no longer exists
func (c *Connection) drain() {
	dropped := 0
	for {
		select {
		case <-c.sendQueue:
			dropped++
		default:
			if dropped > 0 {
				Logger.Debugf("dropped %d queued messages", dropped)
			}
			return
		}
	}
}

// --------------------------------------------------------------------------
// Backoff
// --------------------------------------------------------------------------

// backoff doubles the delay on every attempt up to max, with 10% jitter
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	if initial <= 0 {
		initial = 50 * time.Millisecond
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &backoff{initial: initial, max: maxDelay}
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current = min(b.current*2, b.max)
	}
	jitter := (rand.Float64()*0.2 - 0.1) * float64(b.current)
	return b.current + time.Duration(jitter)
}

func (b *backoff) reset() {
	b.current = 0
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

type connMetrics struct {
	set        *metrics.Set
	sent       *metrics.Counter
	received   *metrics.Counter
	reconnects *metrics.Counter
	dropped    *metrics.Counter
	errors     *metrics.Counter
}

func newConnMetrics() *connMetrics {
	set := metrics.NewSet()
	return &connMetrics{
		set:        set,
		sent:       set.NewCounter("dsync_connection_frames_sent_total"),
		received:   set.NewCounter("dsync_connection_frames_received_total"),
		reconnects: set.NewCounter("dsync_connection_reconnects_total"),
		dropped:    set.NewCounter("dsync_connection_dropped_total"),
		errors:     set.NewCounter("dsync_connection_errors_total"),
	}
}

// WritePrometheus writes the metrics of the connection in prometheus text format
func (c *Connection) WritePrometheus(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}

// String describes the connection for logs
func (c *Connection) String() string {
	return fmt.Sprintf("%s://%s (%s)", c.transport.GetName(), c.config.Transport.Endpoint, c.State())
}
