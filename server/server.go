// Package server implements the twinftp server: it accepts command channels,
// authenticates them, negotiates a data channel per session and serves cd, ls, get
// and put requests one at a time.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/metrics"
	"github.com/telebroad/twinftp/users"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

type Server struct {
	// Addr is the TCP address of the command channel listener, "host:port".
	Addr string

	// TLSConfig wraps command channels in TLS when set.
	TLSConfig *tls.Config

	// PasvMinPort and PasvMaxPort bound the passive data listeners; zero means any port.
	PasvMinPort int
	PasvMaxPort int

	// Encrypt turns on AES encryption of data channel payloads.
	Encrypt bool

	// AcceptTimeout bounds the wait for a passive data connection.
	AcceptTimeout time.Duration

	// Metrics receives server events when set.
	Metrics metrics.Collector

	fs             *filesystem.LocalFS
	users          users.Users
	logger         *slog.Logger
	sessionManager *SessionManager
	inflight       *registry

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	ctx      context.Context
	cancel   context.CancelCauseFunc
	wg       sync.WaitGroup
}

// NewServer creates a server for the given root and credential store.
func NewServer(addr string, fs *filesystem.LocalFS, u users.Users) (*Server, error) {
	if fs == nil {
		return nil, errors.New("no filesystem")
	}
	if u == nil {
		return nil, errors.New("no credential store")
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Server{
		Addr:           addr,
		Encrypt:        true,
		fs:             fs,
		users:          u,
		sessionManager: NewSessionManager(),
		inflight:       newRegistry(),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// ListenAndServe listens on Addr and serves until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	return s.Serve(ln)
}

// TryListenAndServe tries to start the server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) (err error) {
	errC := make(chan error, 1)

	go func() {
		err := s.ListenAndServe()
		if err != nil && !errors.Is(err, ErrServerClosed) {
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

// Serve accepts command channels on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Info("Listening", "addr", ln.Addr().String(), "tls", s.TLSConfig != nil, "encrypt", s.Encrypt)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}
			s.Logger().Error("Error accepting connection", "error", err)
			s.recordConnection(false, "accept_error")
			continue
		}
		s.recordConnection(true, "accepted")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// ListenerAddr returns the address Serve is accepting on, or nil before Serve.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger().Error("Recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	session := newSession(s, conn, uuid.NewString())
	s.sessionManager.Add(session.ID, session)
	defer s.sessionManager.Remove(session.ID)

	if s.Metrics != nil {
		s.Metrics.SessionStarted()
		defer s.Metrics.SessionEnded()
	}

	session.logger.Info("Session started")
	err := session.serve(s.ctx)
	if err != nil {
		session.logger.Error("Session ended", "error", err)
		return
	}
	session.logger.Info("Session ended")
}

// Sessions returns the live sessions.
func (s *Server) Sessions() []*Session {
	return s.sessionManager.List()
}

// Close stops accepting, ends every session and waits for them.
func (s *Server) Close(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if cause == nil {
		cause = ErrServerClosed
	}
	s.cancel(cause)

	var result *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("error closing listener: %w", err))
		}
	}
	for _, session := range s.sessionManager.List() {
		if err := session.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.wg.Wait()
	return result.ErrorOrNil()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
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
	return s.logger.With("module", "twinftp-server")
}

func (s *Server) recordConnection(accepted bool, reason string) {
	if s.Metrics != nil {
		s.Metrics.RecordConnection(accepted, reason)
	}
}
