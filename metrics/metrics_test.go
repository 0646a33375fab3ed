package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics(t *testing.T) {
	m := New()

	m.RecordCommand("ls", true, time.Millisecond)
	m.RecordCommand("ls", false, time.Millisecond)
	m.RecordTransfer("get", 1024, time.Second)
	m.RecordTransfer("get", 1024, time.Second)
	m.RecordConnection(true, "accepted")
	m.RecordAuthentication(false, "alice")
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	out := scrape(t, m)
	for _, want := range []string{
		`twinftp_commands_total{kind="ls",success="true"} 1`,
		`twinftp_commands_total{kind="ls",success="false"} 1`,
		`twinftp_transfer_bytes_total{operation="get"} 2048`,
		`twinftp_connections_total{accepted="true",reason="accepted"} 1`,
		`twinftp_auth_attempts_total{result="failure"} 1`,
		`twinftp_sessions_active 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s", want)
		}
	}
	if strings.Contains(out, "alice") {
		t.Error("user name leaked into labels")
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.SessionStarted()
	if !strings.Contains(scrape(t, b), "twinftp_sessions_active 0") {
		t.Fatal("second registry saw the first one's session")
	}
}
