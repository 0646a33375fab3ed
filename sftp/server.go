// Package sftp mirrors the twinftp served root over SFTP, authenticating against
// the same credential store.
package sftp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/keys"
	"github.com/telebroad/twinftp/users"
	"golang.org/x/crypto/ssh"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("sftp: server closed")

type Server struct {
	Addr string
	// HostKey identifies the server. A fresh key is generated when nil.
	HostKey ssh.Signer

	logger    *slog.Logger
	fs        *filesystem.LocalFS
	users     users.Users
	sshConfig *ssh.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewSFTPServer(addr string, fs *filesystem.LocalFS, u users.Users) *Server {
	return &Server{
		Addr:  addr,
		fs:    fs,
		users: u,
		conns: make(map[net.Conn]struct{}),
	}
}

// SetHostKeyFile loads the host key from file, creating it when missing.
func (s *Server) SetHostKeyFile(file string) error {
	signer, err := keys.HostSigner(file)
	if err != nil {
		return err
	}
	s.HostKey = signer
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger().Error("Failed to listen", "error", err)
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// TryListenAndServe starts the server in the background. Errors within d are
// returned; later ones are only logged.
func (s *Server) TryListenAndServe(d time.Duration) (err error) {
	errC := make(chan error, 1)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, ErrServerClosed) {
			s.Logger().Error("SFTP server stopped", "error", err)
			errC <- err
		}
	}()

	select {
	case err = <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts SSH connections on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	if s.HostKey == nil {
		signer, err := keys.HostSigner("")
		if err != nil {
			return err
		}
		s.HostKey = signer
	}
	config := &ssh.ServerConfig{PasswordCallback: s.AuthHandler}
	config.AddHostKey(s.HostKey)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.sshConfig = config
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Info("Listening on " + ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.Logger().Warn("Failed to accept incoming connection", "error", err)
				continue
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}

		if !s.track(conn, true) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.sshHandler(conn)
		}()
	}
}

// ListenerAddr returns the bound address, nil before Serve.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(c net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.conns[c] = struct{}{}
		return true
	}
	delete(s.conns, c)
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the listener, drops every connection and waits for their handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var result *multierror.Error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for c := range s.conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	return result.ErrorOrNil()
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s.logger.With("module", "sftp-server")
}

// AuthHandler is called by the SSH server when a client attempts to authenticate.
func (s *Server) AuthHandler(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	if _, err := users.Verify(s.users, c.User(), users.Hash(string(pass)), c.RemoteAddr().String()); err != nil {
		s.Logger().Warn("Login rejected", "user", c.User(), "remote", c.RemoteAddr().String(), "error", err)
		return nil, fmt.Errorf("password rejected for %q", c.User())
	}
	s.Logger().Debug("Login", "user", c.User())
	return nil, nil
}

func (s *Server) sshHandler(conn net.Conn) {
	defer conn.Close()

	// Upgrade the connection to an SSH connection.
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.Logger().Error("Failed to handshake", "error", err)
		return
	}
	defer sshConn.Close()

	logger := s.Logger().With("user", sshConn.User(), "remote", sshConn.RemoteAddr().String())
	logger.Info(
		"New SSH connection",
		"ClientVersion", string(sshConn.ClientVersion()),
		"ServerVersion", string(sshConn.ServerVersion()),
	)
	// The incoming Request channel must be serviced.
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		// SFTP runs on a single "session" channel.
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			logger.Error("Could not accept channel", "error", err)
			return
		}
		go s.filterHandler(requests, logger)

		server := sftp.NewRequestServer(channel, NewFileSys(s.fs, logger))
		if err := server.Serve(); err == io.EOF {
			logger.Info("sftp client exited session.")
		} else if err != nil {
			logger.Error("sftp server completed with error", "error", err)
		}
		_ = server.Close()
	}
}

// filterHandler accepts only the sftp subsystem request.
func (s *Server) filterHandler(in <-chan *ssh.Request, logger *slog.Logger) {
	for req := range in {
		logger.Debug("Request", "type", req.Type)

		ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
		if err := req.Reply(ok, nil); err != nil {
			logger.Error("Failed to reply", "error", err)
			return
		}
	}
}
