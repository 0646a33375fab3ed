// httphandler serves the operational endpoints of a twinftp server: metrics,
// health and the list of live sessions.

package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/telebroad/twinftp/server"
	"github.com/telebroad/twinftp/tools"
)

// Sessions lists the live sessions of a server.
type Sessions interface {
	Sessions() []*server.Session
}

// SessionInfo is one entry of the /sessions response.
type SessionInfo struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	RemoteAddr string    `json:"remote_addr"`
	WorkingDir string    `json:"working_dir"`
	Started    time.Time `json:"started"`
}

// OpsServer is the handler behind the metrics address.
type OpsServer struct {
	sessions Sessions
	metrics  http.Handler
	mux      *http.ServeMux
	logger   *slog.Logger
}

func (s *OpsServer) SetLogger(l *slog.Logger) {
	s.logger = l
}
func (s *OpsServer) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s.logger.With("module", "http-ops-handler")
}

// ServeHTTP implements http.Handler
func (s *OpsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Logger().Debug("ServeHTTP", "method", r.Method, "url", r.URL.String(), "remote", r.RemoteAddr, "user-agent", r.UserAgent())

	lw := tools.NewHttpResponseWriter(w, nil)
	s.mux.ServeHTTP(lw, r)
	s.Logger().Debug("Served", "url", r.URL.Path, "status", lw.Status(), "bytes", lw.Written())
}

// Health answers 200 while the server accepts connections.
func (s *OpsServer) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ListSessions answers a JSON array of SessionInfo, oldest first.
func (s *OpsServer) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.Sessions()
	infos := make([]SessionInfo, 0, len(list))
	for _, session := range list {
		infos = append(infos, SessionInfo{
			ID:         session.ID,
			User:       session.Username(),
			RemoteAddr: session.RemoteAddr(),
			WorkingDir: session.WorkingDir(),
			Started:    session.Started,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		s.Logger().Error("Error encoding sessions", "error", err)
	}
}

// NewOpsHandler routes /metrics, /healthz and /sessions. A nil metrics handler
// leaves /metrics unrouted.
func NewOpsHandler(sessions Sessions, metrics http.Handler) *OpsServer {
	s := &OpsServer{
		sessions: sessions,
		metrics:  metrics,
		mux:      http.NewServeMux(),
	}

	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	s.mux.HandleFunc("GET /healthz", s.Health)
	s.mux.HandleFunc("GET /sessions", s.ListSessions)
	return s
}
