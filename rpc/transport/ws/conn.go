package ws

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds the write of the close control frame
const closeGracePeriod = time.Second

// wsConn implements transport.IFrameConn on top of a websocket. Every frame
// is one binary message.
type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newConn(conn *websocket.Conn, writeTimeout time.Duration) transport.IFrameConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IFrameConn)
// --------------------------------------------------------------------------

func (c *wsConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch messageType {
		case websocket.BinaryMessage, websocket.TextMessage:
			return data, nil
		}
	}
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
