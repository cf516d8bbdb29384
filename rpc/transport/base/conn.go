package base

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/rpc/transport"
)

// frameConn implements transport.IFrameConn on top of a net.Conn
type frameConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewFrameConn wraps conn. A positive writeTimeout bounds every frame write.
func NewFrameConn(conn net.Conn, bufferSize int, writeTimeout time.Duration) transport.IFrameConn {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &frameConn{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, bufferSize),
		writeTimeout: writeTimeout,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IFrameConn)
// --------------------------------------------------------------------------

func (c *frameConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return writeFrame(c.conn, data)
}

func (c *frameConn) ReadFrame() ([]byte, error) {
	return readFrame(c.reader)
}

func (c *frameConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return c.conn.LocalAddr().String()
}

func (c *frameConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
