// Package negotiate sets up the data channel over an authenticated command channel.
//
// The server opens with {mode: ready}. In passive mode the client answers {mode: p},
// the server listens and announces {port}, the client dials. In active mode the client
// listens, answers {mode: a} followed by {port}, and the server dials back to the
// command channel's peer. When the server announced encryption it sends {key} and
// {iv} once the data socket is settled.
//
// Active mode dials the command channel's remote address, not its local one. The two
// only differ when client and server run on different hosts.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/telebroad/twinftp/crypt"
	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/message"
)

// Mode is the data channel polarity.
type Mode string

const (
	Passive Mode = message.ModePassive
	Active  Mode = message.ModeActive
)

// ErrNegotiation is wrapped by every negotiation failure.
var ErrNegotiation = errors.New("data channel negotiation failed")

const (
	DefaultAcceptTimeout = 30 * time.Second
	DefaultDialTimeout   = 10 * time.Second
)

// Conn is the command channel. *message.Conn implements it.
type Conn interface {
	Send(message.Message) error
	Receive() (message.Message, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Channel is the negotiated data channel. Keys is nil when payloads travel in
// plaintext.
type Channel struct {
	Conn net.Conn
	Mode Mode
	Keys *crypt.KeyMaterial
}

// Close closes the data socket.
func (c *Channel) Close() error {
	if c == nil || c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

func protocolErr(format string, args ...any) error {
	return fault.Protocol(fmt.Errorf("%w: %s", ErrNegotiation, fmt.Sprintf(format, args...)))
}

func transportErr(err error) error {
	return fault.Transport(fmt.Errorf("%w: %w", ErrNegotiation, err))
}

// receive reads the next message and checks its kind.
func receive[T message.Message](cmd Conn) (T, error) {
	var zero T
	m, err := cmd.Receive()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	v, ok := m.(T)
	if !ok {
		return zero, protocolErr("expected %s, got %s", zero.Kind(), m.Kind())
	}
	return v, nil
}

func send(cmd Conn, m message.Message) error {
	if err := cmd.Send(m); err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	return nil
}

func sendKeys(cmd Conn, keys *crypt.KeyMaterial) error {
	if keys == nil {
		return nil
	}
	if err := send(cmd, message.Key{Key: keys.Key}); err != nil {
		return err
	}
	return send(cmd, message.IV{IV: keys.IV})
}

func receiveKeys(cmd Conn) (*crypt.KeyMaterial, error) {
	key, err := receive[message.Key](cmd)
	if err != nil {
		return nil, err
	}
	iv, err := receive[message.IV](cmd)
	if err != nil {
		return nil, err
	}
	if len(key.Key) != crypt.KeyLength || len(iv.IV) != crypt.IVLength {
		return nil, protocolErr("key material of %d/%d bytes", len(key.Key), len(iv.IV))
	}
	return &crypt.KeyMaterial{Key: key.Key, IV: iv.IV}, nil
}

func host(addr net.Addr) string {
	h, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return h
}

func port(ln net.Listener) int {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// accept waits for exactly one connection, bounded by ctx and timeout.
func accept(ctx context.Context, ln net.Listener, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, transportErr(fmt.Errorf("error accepting data connection: %w", err))
	}
	return conn, nil
}

func dial(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, transportErr(fmt.Errorf("error connecting to data port: %w", err))
	}
	return conn, nil
}
