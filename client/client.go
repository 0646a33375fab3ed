// Package client implements the twinftp client.
//
// A connected client runs three contexts. The input context calls Execute (or the
// typed helpers such as Get and Put) and blocks until the command context answers.
// The command context owns the command channel and serves one request at a time; it
// only takes the next request once the data context reported the previous transfer
// as done. The data context owns the data channel.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/message"
	"github.com/telebroad/twinftp/negotiate"
	"github.com/telebroad/twinftp/users"
)

// DefaultTimeout bounds every read and write on both channels.
const DefaultTimeout = 5 * time.Second

// ErrClosed is returned for requests made after the session ended.
var ErrClosed = errors.New("session closed")

// Options configures Dial.
type Options struct {
	// Addr is the server's command channel address, "host:port".
	Addr string
	// Mode is the data channel polarity, passive by default.
	Mode negotiate.Mode
	// TLSConfig wraps the command channel in TLS when set.
	TLSConfig *tls.Config
	// Timeout is the idle timeout of every socket operation.
	Timeout time.Duration
	// LocalDir is the initial local working directory; the process directory when empty.
	LocalDir string
	// Logger taps command channel frames at debug level.
	Logger *slog.Logger
}

type Client struct {
	// Output receives transfer notices from the data context.
	Output io.Writer

	opts   Options
	logger *slog.Logger
	cmd    *message.Conn
	data   *negotiate.Channel

	requests  chan request
	transfers chan *transfer
	done      chan struct{}
	err       error

	// owned by the input context
	localDir string

	mu        sync.Mutex
	user      string
	remoteDir string
	started   time.Time
	stats     stats
}

type stats struct {
	transfers int
	sent      int64
	received  int64
}

// Dial connects the command channel.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Mode == "" {
		opts.Mode = negotiate.Passive
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LocalDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting working directory: %w", err)
		}
		opts.LocalDir = wd
	}

	c := &Client{
		Output:    os.Stdout,
		opts:      opts,
		logger:    opts.Logger,
		requests:  make(chan request),
		transfers: make(chan *transfer),
		done:      make(chan struct{}),
		localDir:  opts.LocalDir,
		remoteDir: "/",
	}

	d := &net.Dialer{Timeout: opts.Timeout}
	var conn net.Conn
	var err error
	if opts.TLSConfig != nil {
		conn, err = (&tls.Dialer{NetDialer: d, Config: opts.TLSConfig}).DialContext(ctx, "tcp", opts.Addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", opts.Addr)
	}
	if err != nil {
		return nil, fault.Transport(fmt.Errorf("error connecting to %s: %w", opts.Addr, err))
	}
	c.cmd = message.NewConn(conn, opts.Timeout, c.Logger())
	c.Logger().Debug("Connected", "addr", opts.Addr, "tls", opts.TLSConfig != nil)
	return c, nil
}

// Login authenticates the session. On failure the connection is closed.
func (c *Client) Login(name, password string) error {
	if err := users.Login(c.cmd, name, password); err != nil {
		_ = c.cmd.Close()
		return err
	}
	c.mu.Lock()
	c.user = name
	c.mu.Unlock()
	return nil
}

// Join negotiates the data channel and starts the command and data contexts.
func (c *Client) Join(ctx context.Context) error {
	ch, err := negotiate.Join(ctx, c.cmd, c.opts.Mode, negotiate.ClientOptions{
		DialTimeout:   c.opts.Timeout,
		AcceptTimeout: c.opts.Timeout,
	})
	if err != nil {
		_ = c.cmd.Close()
		return err
	}
	c.data = ch

	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()

	dataDone := make(chan struct{})
	go func() {
		defer close(dataDone)
		c.dataLoop(message.NewConn(ch.Conn, c.opts.Timeout, nil))
	}()
	go c.commandLoop(dataDone)
	return nil
}

// Done is closed when the session ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the session ended and returns the fault that ended it, or nil
// after exit.
func (c *Client) Wait() error {
	<-c.done
	return c.err
}

// Close ends the session with exit if it is still running.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if c.data == nil {
		return c.cmd.Close()
	}
	err := c.Exit()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Encrypted reports whether data channel payloads are encrypted.
func (c *Client) Encrypted() bool {
	return c.data != nil && c.data.Keys != nil
}

// RemoteDir is the last directory the server confirmed.
func (c *Client) RemoteDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDir
}

// LocalDir is the local working directory.
func (c *Client) LocalDir() string {
	return c.localDir
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(l *slog.Logger) {
	c.logger = l
}

// Logger returns the logger for the client.
func (c *Client) Logger() *slog.Logger {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c.logger.With("module", "twinftp-client")
}
