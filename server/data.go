package server

import (
	"fmt"
	"io"
	"time"

	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/message"
	"github.com/telebroad/twinftp/negotiate"
)

type op string

const (
	opGet op = "get"
	opPut op = "put"
)

// transfer is one unit of work for the data goroutine. opened is only used by put;
// done receives exactly one result once the transfer finished.
type transfer struct {
	op       op
	name     string
	textMode bool
	opened   chan error
	done     chan transferResult
}

type transferResult struct {
	bytes int64
	err   error
}

// dataLoop runs the data goroutine until transfers is closed.
func (s *Session) dataLoop(conn *message.Conn, ch *negotiate.Channel) {
	for t := range s.transfers {
		started := time.Now()
		var res transferResult
		switch t.op {
		case opGet:
			res = s.sendFile(conn, ch, t)
		case opPut:
			f, err := s.server.fs.Create(t.name)
			t.opened <- err
			if err != nil {
				continue
			}
			res = s.receiveFile(conn, ch, t, f)
		}

		if res.err != nil {
			s.logger.Error("Transfer failed", "op", t.op, "file", t.name, "error", res.err)
		} else {
			s.logger.Info("Transfer done", "op", t.op, "file", t.name, "bytes", res.bytes)
			if s.server.Metrics != nil {
				s.server.Metrics.RecordTransfer(string(t.op), res.bytes, time.Since(started))
			}
		}
		t.done <- res
	}
}

func (s *Session) sendFile(conn *message.Conn, ch *negotiate.Channel, t *transfer) transferResult {
	f, err := s.server.fs.Open(t.name)
	if err != nil {
		return transferResult{err: err}
	}
	b, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return transferResult{err: fmt.Errorf("error reading file: %w", err)}
	}

	payload, err := ch.Keys.Seal(b)
	if err != nil {
		return transferResult{err: err}
	}
	if err := conn.SendFrame(payload); err != nil {
		return transferResult{err: err}
	}
	return transferResult{bytes: int64(len(b))}
}

// receiveFile fills the already created file f. A failed upload leaves no partial file.
func (s *Session) receiveFile(conn *message.Conn, ch *negotiate.Channel, t *transfer, f io.WriteCloser) (res transferResult) {
	defer func() {
		if res.err != nil {
			_ = s.server.fs.Remove(t.name)
		}
	}()

	payload, err := conn.ReceiveFrame()
	if err != nil {
		_ = f.Close()
		return transferResult{err: err}
	}
	b, err := ch.Keys.Open(payload)
	if err != nil {
		_ = f.Close()
		return transferResult{err: fmt.Errorf("error decrypting payload: %w", err)}
	}
	if t.textMode {
		b = filesystem.TextTransform(b)
	}

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return transferResult{err: fmt.Errorf("error writing file: %w", err)}
	}
	if err := f.Close(); err != nil {
		return transferResult{err: fmt.Errorf("error closing file: %w", err)}
	}
	return transferResult{bytes: int64(len(b))}
}
