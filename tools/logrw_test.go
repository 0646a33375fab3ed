package tools

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type buffer struct {
	bytes.Buffer
}

func TestLogReadWriter(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var conn buffer
	rw := NewLogReadWriter(&conn, logger)

	if _, err := rw.Write([]byte("5         {\"cd\":\"..\"}\x00")); err != nil {
		t.Fatal(err)
	}
	b := make([]byte, 64)
	n, err := rw.Read(b)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("nothing read back")
	}

	out := logs.String()
	if !strings.Contains(out, "Sending") || !strings.Contains(out, "Received") {
		t.Fatalf("missing log lines: %s", out)
	}
	if strings.Contains(out, "\x00") {
		t.Fatalf("non printable byte leaked into the log: %q", out)
	}
}

func TestLogReadWriterNilLogger(t *testing.T) {
	var conn buffer
	rw := NewLogReadWriter(&conn, nil)
	if _, err := rw.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestIsPrintable(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("plain"), "plain"},
		{[]byte("a\x00b\x07c"), "abc"},
		{[]byte{}, ""},
	}
	for _, tt := range tests {
		if got := IsPrintable(tt.in); got != tt.want {
			t.Errorf("IsPrintable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHttpResponseWriter(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rec := httptest.NewRecorder()
	rw := NewHttpResponseWriter(rec, logger)
	if rw.Status() != 0 {
		t.Fatalf("status before write = %d", rw.Status())
	}
	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write([]byte("short\x00")); err != nil {
		t.Fatal(err)
	}
	if rw.Status() != http.StatusTeapot || rw.Written() != 6 {
		t.Fatalf("status %d, written %d", rw.Status(), rw.Written())
	}
	if !strings.Contains(logs.String(), "body=short") {
		t.Fatalf("body not logged: %s", logs.String())
	}

	implicit := NewHttpResponseWriter(httptest.NewRecorder(), nil)
	if _, err := implicit.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if implicit.Status() != http.StatusOK {
		t.Fatalf("implicit status = %d", implicit.Status())
	}
}
