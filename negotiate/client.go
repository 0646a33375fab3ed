package negotiate

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/telebroad/twinftp/message"
)

// ClientOptions configures Join.
type ClientOptions struct {
	// DialTimeout bounds the passive mode dial.
	DialTimeout time.Duration
	// AcceptTimeout bounds the wait for the server in active mode.
	AcceptTimeout time.Duration
}

// Join runs the client side of the negotiation in the given mode.
func Join(ctx context.Context, cmd Conn, mode Mode, opts ClientOptions) (*Channel, error) {
	cue, err := receive[message.Mode](cmd)
	if err != nil {
		return nil, err
	}
	if cue.Mode != message.Ready {
		return nil, protocolErr("expected mode %q, got %q", message.Ready, cue.Mode)
	}

	ch := &Channel{Mode: mode}
	switch mode {
	case Passive:
		err = joinPassive(ctx, cmd, ch, cue.Encrypted, opts)
	case Active:
		err = joinActive(ctx, cmd, ch, cue.Encrypted, opts)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrNegotiation, mode)
	}
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func joinPassive(ctx context.Context, cmd Conn, ch *Channel, encrypted bool, opts ClientOptions) (err error) {
	if err := send(cmd, message.Mode{Mode: string(Passive)}); err != nil {
		return err
	}
	p, err := receive[message.Port](cmd)
	if err != nil {
		return err
	}
	if encrypted {
		if ch.Keys, err = receiveKeys(cmd); err != nil {
			return err
		}
	}
	ch.Conn, err = dial(ctx, host(cmd.RemoteAddr()), p.Port, opts.DialTimeout)
	return err
}

func joinActive(ctx context.Context, cmd Conn, ch *Channel, encrypted bool, opts ClientOptions) (err error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host(cmd.LocalAddr()), "0"))
	if err != nil {
		return transportErr(fmt.Errorf("error listening for data connection: %w", err))
	}
	defer ln.Close()

	if err := send(cmd, message.Mode{Mode: string(Active)}); err != nil {
		return err
	}
	if err := send(cmd, message.Port{Port: port(ln)}); err != nil {
		return err
	}
	if ch.Conn, err = accept(ctx, ln, opts.AcceptTimeout); err != nil {
		return err
	}
	if encrypted {
		ch.Keys, err = receiveKeys(cmd)
	}
	return err
}
