package httphandler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/telebroad/twinftp/metrics"
	"github.com/telebroad/twinftp/server"
)

type noSessions struct{}

func (noSessions) Sessions() []*server.Session { return nil }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOpsHandler(t *testing.T) {
	m := metrics.New()
	m.SessionStarted()
	h := NewOpsHandler(noSessions{}, m.Handler())

	tests := []struct {
		target string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok\n"},
		{"/sessions", http.StatusOK, "[]\n"},
		{"/metrics", http.StatusOK, "twinftp_sessions_active 1"},
		{"/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, h, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestOpsHandlerWithoutMetrics(t *testing.T) {
	h := NewOpsHandler(noSessions{}, nil)
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionsJSON(t *testing.T) {
	h := NewOpsHandler(noSessions{}, nil)
	rec := get(t, h, "/sessions")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var infos []SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Fatalf("got %d sessions", len(infos))
	}
}

func TestTryListenAndServe(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewOpsHandler(noSessions{}, nil))
	if err := srv.TryListenAndServe(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	resp, err := http.Get("http://" + srv.ListenerAddr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok\n" {
		t.Fatalf("got %d %q", resp.StatusCode, b)
	}

	busy := NewServer(srv.ListenerAddr().String(), http.NotFoundHandler())
	if err := busy.TryListenAndServe(50 * time.Millisecond); err == nil {
		busy.Close()
		t.Fatal("second server bound the same address")
	}
}
