package client

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/message"
)

// transfer is one unit of work for the data context. opened is only used by get;
// done receives exactly one result.
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

var (
	notice  = color.New(color.FgGreen)
	failure = color.New(color.FgRed)
)

// dataLoop owns the data channel until it receives the exit token.
func (c *Client) dataLoop(conn *message.Conn) {
	for t := range c.transfers {
		started := time.Now()
		var res transferResult
		switch t.op {
		case opExit:
			t.done <- transferResult{err: c.data.Close()}
			return
		case opGet:
			f, err := os.Create(t.name)
			t.opened <- err
			if err != nil {
				continue
			}
			res = c.receiveFile(conn, t, f)
		case opPut:
			res = c.sendFile(conn, t)
		}

		if res.err != nil {
			c.Logger().Error("Transfer failed", "op", t.op, "file", t.name, "error", res.err)
		} else {
			c.Logger().Debug("Transfer done", "op", t.op, "file", t.name, "bytes", res.bytes, "took", time.Since(started))
			c.record(t.op, res.bytes)
			if c.Output != nil {
				verb := "Downloaded"
				if t.op == opPut {
					verb = "Uploaded"
				}
				_, _ = notice.Fprintf(c.Output, "%s %s (%d bytes)\n", verb, t.name, res.bytes)
			}
		}
		t.done <- res
	}
}

func (c *Client) record(o op, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.transfers++
	if o == opPut {
		c.stats.sent += n
	} else {
		c.stats.received += n
	}
}

func (c *Client) sendFile(conn *message.Conn, t *transfer) transferResult {
	b, err := os.ReadFile(t.name)
	if err != nil {
		return transferResult{err: fmt.Errorf("error reading file: %w", err)}
	}
	payload, err := c.data.Keys.Seal(b)
	if err != nil {
		return transferResult{err: err}
	}
	if err := conn.SendFrame(payload); err != nil {
		return transferResult{err: err}
	}
	return transferResult{bytes: int64(len(b))}
}

// receiveFile fills the already created file f. A failed download leaves no partial file.
func (c *Client) receiveFile(conn *message.Conn, t *transfer, f *os.File) (res transferResult) {
	defer func() {
		if res.err != nil {
			_ = os.Remove(t.name)
		}
	}()

	payload, err := conn.ReceiveFrame()
	if err != nil {
		_ = f.Close()
		return transferResult{err: err}
	}
	b, err := c.data.Keys.Open(payload)
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
