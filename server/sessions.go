package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/telebroad/twinftp/message"
	"github.com/telebroad/twinftp/negotiate"
	"github.com/telebroad/twinftp/users"
)

// Session represents an individual client session.
type Session struct {
	ID      string
	Started time.Time

	server *Server
	conn   *message.Conn      // command channel
	data   *negotiate.Channel // data channel, nil until negotiated
	user   *users.User
	logger *slog.Logger

	// transfers hands work from the command goroutine to the data goroutine
	transfers chan *transfer

	mu         sync.Mutex
	workingDir string
	closeOnce  sync.Once
	closeErr   error
}

func newSession(s *Server, conn net.Conn, id string) *Session {
	logger := s.Logger().With("session", id, "remote", conn.RemoteAddr().String())
	return &Session{
		ID:         id,
		Started:    time.Now(),
		server:     s,
		conn:       message.NewConn(conn, 0, logger),
		logger:     logger,
		transfers:  make(chan *transfer),
		workingDir: s.fs.RootDir(),
	}
}

// RemoteAddr is the client's command channel address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Username is empty until the session is authenticated.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.Username
}

// WorkingDir is the session's current remote directory.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

func (s *Session) setWorkingDir(dir string) {
	s.mu.Lock()
	s.workingDir = dir
	s.mu.Unlock()
}

// serve runs the command goroutine: authentication, negotiation, then requests
// until exit or a fatal fault. It owns the session and tears it down.
func (s *Session) serve(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	user, err := users.Authenticate(s.conn, s.server.users, s.RemoteAddr())
	if s.server.Metrics != nil {
		name := ""
		if user != nil {
			name = user.Username
		}
		s.server.Metrics.RecordAuthentication(err == nil, name)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.logger = s.logger.With("user", user.Username)
	s.logger.Info("User logged in")

	data, err := negotiate.Offer(ctx, s.conn, negotiate.ServerOptions{
		Encrypt:       s.server.Encrypt,
		PasvMinPort:   s.server.PasvMinPort,
		PasvMaxPort:   s.server.PasvMaxPort,
		AcceptTimeout: s.server.AcceptTimeout,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	s.logger.Info("Data channel ready", "mode", data.Mode, "encrypted", data.Keys != nil)

	dataDone := make(chan struct{})
	go func() {
		defer close(dataDone)
		s.dataLoop(message.NewConn(data.Conn, 0, nil), data)
	}()
	defer func() {
		close(s.transfers)
		<-dataDone
	}()

	return s.commandLoop()
}

// Close closes both channels. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var result *multierror.Error
		s.mu.Lock()
		data := s.data
		s.mu.Unlock()
		if err := data.Close(); err != nil && !isClosedErr(err) {
			result = multierror.Append(result, fmt.Errorf("error closing data channel: %w", err))
		}
		if err := s.conn.Close(); err != nil && !isClosedErr(err) {
			result = multierror.Append(result, fmt.Errorf("error closing command channel: %w", err))
		}
		s.closeErr = result.ErrorOrNil()
	})
	return s.closeErr
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// SessionManager manages all active sessions.
type SessionManager struct {
	sessions map[string]*Session // Map of active sessions
	lock     sync.RWMutex        // Protects the sessions map
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add adds a new session for the client.
func (manager *SessionManager) Add(id string, session *Session) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.sessions[id] = session
}

// Get retrieves a session by its ID.
func (manager *SessionManager) Get(id string) (*Session, bool) {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	session, exists := manager.sessions[id]
	return session, exists
}

// Remove removes a session by its ID.
func (manager *SessionManager) Remove(id string) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	delete(manager.sessions, id)
}

// List returns the sessions ordered by start time.
func (manager *SessionManager) List() []*Session {
	manager.lock.RLock()
	list := make([]*Session, 0, len(manager.sessions))
	for _, session := range manager.sessions {
		list = append(list, session)
	}
	manager.lock.RUnlock()

	slices.SortFunc(list, func(a, b *Session) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}
