package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/message"
)

type op string

const (
	opCd   op = "cd"
	opLs   op = "ls"
	opGet  op = "get"
	opPut  op = "put"
	opExit op = "exit"
)

// request is one remote command handed from the input context to the command
// context. reply receives exactly one response.
type request struct {
	op       op
	arg      string
	local    string
	textMode bool
	reply    chan response
}

type response struct {
	text string
	err  error
}

// do hands req to the command context and waits for its answer.
func (c *Client) do(req request) (string, error) {
	req.reply = make(chan response, 1)
	select {
	case c.requests <- req:
	case <-c.done:
		return "", ErrClosed
	}
	select {
	case res := <-req.reply:
		return res.text, res.err
	case <-c.done:
		// the reply may have been sent right before the session ended
		select {
		case res := <-req.reply:
			return res.text, res.err
		default:
			return "", ErrClosed
		}
	}
}

// ChangeDir changes the remote working directory and returns the new one.
func (c *Client) ChangeDir(dir string) (string, error) {
	return c.do(request{op: opCd, arg: dir})
}

// List returns the tree rendered by the server for args ("[root [depth]]").
func (c *Client) List(args string) (string, error) {
	return c.do(request{op: opLs, arg: args})
}

// Get downloads remote into the local working directory and returns the local
// path. When a local file of the same name exists a suffixed name is used. The
// call returns once the server accepted the request; the transfer is finished
// before the next request is served.
func (c *Client) Get(remote string, textMode bool) (string, error) {
	return c.do(request{op: opGet, arg: remote, local: c.localDir, textMode: textMode})
}

// Put uploads local (relative to the local working directory) into the remote
// working directory and returns the server's info line.
func (c *Client) Put(local string, textMode bool) (string, error) {
	if !filepath.IsAbs(local) {
		local = filepath.Join(c.localDir, local)
	}
	return c.do(request{op: opPut, local: local, textMode: textMode})
}

// Exit ends the session and waits for both channels to close.
func (c *Client) Exit() error {
	if _, err := c.do(request{op: opExit}); err != nil {
		return err
	}
	return c.Wait()
}

// commandLoop serves requests until exit or a fatal fault.
func (c *Client) commandLoop(dataDone <-chan struct{}) {
	var err error
	for {
		req := <-c.requests
		if req.op == opExit {
			err = c.exit(dataDone)
			req.reply <- response{err: err}
			break
		}

		err = c.handle(req)
		if fault.IsFatal(err) {
			c.Logger().Error("Session failed", "op", req.op, "error", err)
			if stopErr := c.stopData(dataDone); stopErr != nil {
				err = multierror.Append(err, stopErr)
			}
			if closeErr := c.cmd.Close(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
			break
		}
	}
	c.err = err
	close(c.done)
}

// handle serves one request and answers on req.reply exactly once. A request
// fault is already answered and only returned for logging.
func (c *Client) handle(req request) error {
	var err error
	answered := false
	reply := func(text string, err error) {
		answered = true
		req.reply <- response{text: text, err: err}
	}
	defer func() {
		if !answered {
			req.reply <- response{err: err}
		}
	}()

	switch req.op {
	case opCd:
		err = c.changeDir(req, reply)
	case opLs:
		err = c.list(req, reply)
	case opGet:
		err = c.get(req, reply)
	case opPut:
		err = c.put(req, reply)
	default:
		err = fault.Request(fmt.Errorf("unknown request %q", req.op))
	}
	return err
}

// receive reads one reply. An ERR message from the server fails the request only.
func (c *Client) receive() (message.Message, error) {
	m, err := c.cmd.Receive()
	if err != nil {
		return nil, err
	}
	if e, ok := m.(message.Error); ok {
		return nil, fault.Request(fmt.Errorf("server error: %s", e.Reason))
	}
	return m, nil
}

func unexpected(want message.Kind, got message.Message) error {
	return fault.Protocol(fmt.Errorf("expected %s reply, got %s", want, got.Kind()))
}

func (c *Client) changeDir(req request, reply func(string, error)) error {
	if err := c.cmd.Send(message.Cd{Path: req.arg}); err != nil {
		return err
	}
	m, err := c.receive()
	if err != nil {
		return err
	}
	cd, ok := m.(message.Cd)
	if !ok {
		return unexpected(message.KindCd, m)
	}
	if cd.Failed() {
		return fault.Request(fmt.Errorf("cannot change directory to %s", req.arg))
	}
	c.mu.Lock()
	c.remoteDir = cd.Path
	c.mu.Unlock()
	reply(cd.Path, nil)
	return nil
}

func (c *Client) list(req request, reply func(string, error)) error {
	if err := c.cmd.Send(message.Ls{Arg: req.arg}); err != nil {
		return err
	}
	m, err := c.receive()
	if err != nil {
		return err
	}
	ls, ok := m.(message.Ls)
	if !ok {
		return unexpected(message.KindLs, m)
	}
	if ls.Failed() {
		return fault.Request(fmt.Errorf("cannot list %q", req.arg))
	}
	reply(ls.Arg, nil)
	return nil
}

func (c *Client) get(req request, reply func(string, error)) error {
	dest := filesystem.UniqueName(filepath.Join(req.local, filepath.Base(req.arg)), exists)
	if err := c.cmd.Send(message.Get{Arg: req.arg}); err != nil {
		return err
	}
	m, err := c.receive()
	if err != nil {
		return err
	}
	g, ok := m.(message.Get)
	if !ok {
		return unexpected(message.KindGet, m)
	}
	if g.Failed() {
		return fault.Request(fmt.Errorf("cannot download %s", req.arg))
	}

	t := &transfer{
		op:       opGet,
		name:     dest,
		textMode: req.textMode,
		opened:   make(chan error, 1),
		done:     make(chan transferResult, 1),
	}
	c.transfers <- t
	if err := <-t.opened; err != nil {
		// the server already waits for the ready acknowledgement
		return fault.Protocol(fmt.Errorf("error creating %s: %w", dest, err))
	}
	if err := c.cmd.Send(message.Get{Arg: message.Ready}); err != nil {
		<-t.done
		return err
	}
	reply(dest, nil)
	return (<-t.done).err
}

func (c *Client) put(req request, reply func(string, error)) error {
	fi, err := os.Stat(req.local)
	if err != nil {
		return fault.Request(err)
	}
	if !fi.Mode().IsRegular() {
		return fault.Request(fmt.Errorf("%s is not a regular file", req.local))
	}

	if err := c.cmd.Send(message.Put{Path: filepath.Base(req.local), TextMode: req.textMode}); err != nil {
		return err
	}
	m, err := c.receive()
	if err != nil {
		return err
	}
	p, ok := m.(message.PutReply)
	if !ok {
		return unexpected(message.KindPutReply, m)
	}
	if !p.OK() {
		return fault.Request(fmt.Errorf("upload refused: %s", p.Info))
	}
	reply(p.Info, nil)

	// the server opens its destination before the cue
	m, err = c.receive()
	switch {
	case errors.Is(err, fault.ErrRequest):
		c.Logger().Warn("Upload aborted by server", "file", req.local, "error", err)
		if c.Output != nil {
			_, _ = failure.Fprintf(c.Output, "Upload of %s failed: %v\n", req.local, err)
		}
		return err
	case err != nil:
		return err
	}
	if _, ok := m.(message.PutReady); !ok {
		return unexpected(message.KindPutReady, m)
	}

	t := &transfer{op: opPut, name: req.local, textMode: req.textMode, done: make(chan transferResult, 1)}
	c.transfers <- t
	return (<-t.done).err
}

// exit stops the data context, then says goodbye on the command channel.
func (c *Client) exit(dataDone <-chan struct{}) error {
	var result *multierror.Error
	if err := c.stopData(dataDone); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.cmd.Send(message.Exit{}); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.cmd.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// stopData hands the exit token to the data context and waits for it to close
// the data channel.
func (c *Client) stopData(dataDone <-chan struct{}) error {
	t := &transfer{op: opExit, done: make(chan transferResult, 1)}
	select {
	case c.transfers <- t:
	case <-dataDone:
		return nil
	}
	res := <-t.done
	<-dataDone
	return res.err
}

func exists(name string) bool {
	_, err := os.Lstat(name)
	return err == nil
}
