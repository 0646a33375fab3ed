package httphandler

import (
	"errors"
	"net"
	"net/http"
	"time"
)

type Server struct {
	*http.Server
	ln net.Listener
}

// NewServer prepares an HTTP server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// ListenerAddr is the bound address once the server is listening.
func (s *Server) ListenerAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// TryListenAndServe binds the address and serves in the background. Errors that
// happen within d are returned; later ones are dropped.
func (s *Server) TryListenAndServe(d time.Duration) error {
	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	errC := make(chan error, 1)
	go func() {
		err := s.Server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}
