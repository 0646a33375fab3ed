package tools

import (
	"io"
	"log/slog"
	"net/http"
)

// LogReadWriter wraps an io.ReadWriter and logs every read and write to a slog.Logger
// at debug level. Non printable bytes are dropped from the logged body.
type LogReadWriter struct {
	ReadWriter io.ReadWriter
	logger     *slog.Logger
}

func (rw *LogReadWriter) Read(b []byte) (int, error) {
	n, err := rw.ReadWriter.Read(b)
	if rw.logger != nil && n > 0 { // Log only if n > 0 to avoid logging empty reads
		rw.logger.Debug("Received", "bytes", n, "body", IsPrintable(b[:n]))
	}
	return n, err
}

func (rw *LogReadWriter) Write(b []byte) (int, error) {
	if rw.logger != nil {
		rw.logger.Debug("Sending", "bytes", len(b), "body", IsPrintable(b))
	}
	return rw.ReadWriter.Write(b)
}

// NewLogReadWriter creates a new LogReadWriter.
func NewLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *LogReadWriter {
	return &LogReadWriter{ReadWriter: rw, logger: logger}
}

// HttpResponseWriter records the status and size of a response and optionally
// logs its body.
type HttpResponseWriter struct {
	http.ResponseWriter
	logger  *slog.Logger
	status  int
	written int64
}

func (rw *HttpResponseWriter) WriteHeader(status int) {
	if rw.status == 0 {
		rw.status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *HttpResponseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if rw.logger != nil {
		rw.logger.Debug("Respond", "body", IsPrintable(b))
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Status is the response status, 0 before anything was written.
func (rw *HttpResponseWriter) Status() int {
	return rw.status
}

// Written is the number of body bytes written.
func (rw *HttpResponseWriter) Written() int64 {
	return rw.written
}

func NewHttpResponseWriter(w http.ResponseWriter, logger *slog.Logger) *HttpResponseWriter {
	return &HttpResponseWriter{ResponseWriter: w, logger: logger}
}
