package message

import (
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/telebroad/twinftp/tools"
)

// Conn is a framed connection. Command channels are created with a logger so every
// frame is visible at debug level; data channels are created without one.
type Conn struct {
	net.Conn
	rw io.ReadWriter
}

// NewConn wraps c. A positive timeout bounds every single read and write; it is
// refreshed on each call so long transfers only fail when the peer goes idle.
func NewConn(c net.Conn, timeout time.Duration, logger *slog.Logger) *Conn {
	if timeout > 0 {
		c = &idleConn{Conn: c, timeout: timeout}
	}
	var rw io.ReadWriter = c
	if logger != nil {
		rw = tools.NewLogReadWriter(c, logger)
	}
	return &Conn{Conn: c, rw: rw}
}

// Send writes one message.
func (c *Conn) Send(m Message) error {
	return Send(c.rw, m)
}

// Receive reads one message.
func (c *Conn) Receive() (Message, error) {
	return Receive(c.rw)
}

// SendFrame writes one raw payload frame.
func (c *Conn) SendFrame(payload []byte) error {
	return WriteFrame(c.rw, payload)
}

// ReceiveFrame reads one raw payload frame.
func (c *Conn) ReceiveFrame() ([]byte, error) {
	return ReadFrame(c.rw, MaxFrameSize)
}

type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
