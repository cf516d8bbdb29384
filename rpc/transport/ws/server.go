package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

// serverTransport accepts websocket links on an http server
type serverTransport struct {
	handler transport.ServerHandleFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   bool

	links *xsync.MapOf[transport.IFrameConn, struct{}]
	wg    sync.WaitGroup
}

// NewWSServerTransport creates a new websocket server transport
func NewWSServerTransport() transport.IRPCServerTransport {
	return &serverTransport{
		links: xsync.NewMapOf[transport.IFrameConn, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  config.Transport.ReadBufferSize,
		WriteBufferSize: config.Transport.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	writeTimeout := config.Transport.WriteTimeout()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger.Warningf("failed to upgrade connection from %s: %v", r.RemoteAddr, err)
			return
		}
		t.serve(newConn(conn, writeTimeout))
	})

	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	server := &http.Server{Handler: mux}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.server = server
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("starting ws server on %s", listener.Addr())

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	t.wg.Wait()
	return nil
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil || t.closed {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	t.mu.Unlock()

	var err error
	if server != nil {
		err = server.Close()
	}
	// hijacked connections are not closed by the http server
	t.links.Range(func(link transport.IFrameConn, _ struct{}) bool {
		_ = link.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// serve runs the handler for one link on the http handler goroutine
func (t *serverTransport) serve(link transport.IFrameConn) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = link.Close()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	t.links.Store(link, struct{}{})
	if t.isClosed() {
		// Close may have missed the link
		_ = link.Close()
	}
	defer func() {
		t.links.Delete(link)
		_ = link.Close()
	}()

	Logger.Debugf("accepted link from %s", link.RemoteAddr())
	t.handler(link)
}

func (t *serverTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
