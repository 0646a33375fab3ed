package negotiate

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/telebroad/twinftp/crypt"
	"github.com/telebroad/twinftp/message"
)

// ServerOptions configures Offer.
type ServerOptions struct {
	// Encrypt announces and distributes key material.
	Encrypt bool
	// PasvMinPort and PasvMaxPort bound passive listeners. Zero picks any free port.
	PasvMinPort int
	PasvMaxPort int
	// AcceptTimeout bounds the wait for the passive connection.
	AcceptTimeout time.Duration
	// DialTimeout bounds the active mode dial.
	DialTimeout time.Duration
}

// Offer runs the server side of the negotiation on an authenticated command
// channel and returns the data channel.
func Offer(ctx context.Context, cmd Conn, opts ServerOptions) (*Channel, error) {
	if err := send(cmd, message.Mode{Mode: message.Ready, Encrypted: opts.Encrypt}); err != nil {
		return nil, err
	}
	choice, err := receive[message.Mode](cmd)
	if err != nil {
		return nil, err
	}

	var keys *crypt.KeyMaterial
	if opts.Encrypt {
		if keys, err = crypt.NewKeyMaterial(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNegotiation, err)
		}
	}

	ch := &Channel{Mode: Mode(choice.Mode), Keys: keys}
	switch ch.Mode {
	case Passive:
		ch.Conn, err = offerPassive(ctx, cmd, keys, opts)
	case Active:
		ch.Conn, err = offerActive(ctx, cmd, keys, opts)
	default:
		return nil, protocolErr("unknown mode %q", choice.Mode)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func offerPassive(ctx context.Context, cmd Conn, keys *crypt.KeyMaterial, opts ServerOptions) (net.Conn, error) {
	ln, err := listen(host(cmd.LocalAddr()), opts.PasvMinPort, opts.PasvMaxPort)
	if err != nil {
		return nil, transportErr(err)
	}
	defer ln.Close()

	if err := send(cmd, message.Port{Port: port(ln)}); err != nil {
		return nil, err
	}
	if err := sendKeys(cmd, keys); err != nil {
		return nil, err
	}
	return accept(ctx, ln, opts.AcceptTimeout)
}

func offerActive(ctx context.Context, cmd Conn, keys *crypt.KeyMaterial, opts ServerOptions) (net.Conn, error) {
	p, err := receive[message.Port](cmd)
	if err != nil {
		return nil, err
	}
	if p.Port <= 0 || p.Port > 65535 {
		return nil, protocolErr("invalid port %d", p.Port)
	}

	// always the command channel's peer, never an address the client names
	conn, err := dial(ctx, host(cmd.RemoteAddr()), p.Port, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	if err := sendKeys(cmd, keys); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// listen opens the passive listener on host, either on any free port or on the first
// free port of [start, end].
func listen(host string, start, end int) (net.Listener, error) {
	if start <= 0 || end <= 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, fmt.Errorf("error listening for data connection: %w", err)
		}
		return ln, nil
	}
	ln, _, err := findAvailablePortInRange(host, start, end)
	return ln, err
}

// findAvailablePortInRange finds an available port in the given range.
// It returns a listener on the available port and the port number.
func findAvailablePortInRange(host string, start, end int) (net.Listener, int, error) {
	for port := start; port <= end; port++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no available ports found in range %d-%d", start, end)
}
