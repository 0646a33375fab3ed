package server

import (
	"errors"
	"fmt"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/message"
)

// errExit ends the command loop without an error.
var errExit = errors.New("client exited")

type handlerMap map[message.Kind]func(m message.Message) error

func (s *Session) handlers() handlerMap {
	return handlerMap{
		message.KindCd:   s.ChangeDirCommand,
		message.KindLs:   s.ListCommand,
		message.KindGet:  s.GetCommand,
		message.KindPut:  s.PutCommand,
		message.KindExit: s.ExitCommand,
	}
}

// commandLoop serves requests until exit or a fatal fault. Requests are handled one
// at a time; a transfer is finished before the next message is read.
func (s *Session) commandLoop() error {
	handlers := s.handlers()
	for {
		m, err := s.conn.Receive()
		if err != nil {
			if errors.Is(err, message.ErrPeerClosed) {
				s.logger.Info("Client closed the connection")
				return nil
			}
			return err
		}

		started := time.Now()
		handler, ok := handlers[m.Kind()]
		if !ok {
			handler = s.UnknownCommand
		}
		err = s.dispatch(handler, m)
		s.recordCommand(m.Kind(), err, time.Since(started))

		switch {
		case err == nil:
		case errors.Is(err, errExit):
			return nil
		case fault.IsFatal(err):
			return err
		default:
			s.logger.Warn("Request failed", "kind", m.Kind(), "error", err)
		}
	}
}

// dispatch runs one handler. A panic is answered with ERR and the session continues.
func (s *Session) dispatch(handler func(message.Message) error, m message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic", "panic", r, "stack", string(debug.Stack()))
			if err = s.conn.Send(message.Error{Reason: fmt.Sprint(r)}); err == nil {
				err = fault.Request(fmt.Errorf("handler panic: %v", r))
			}
		}
	}()
	return handler(m)
}

func (s *Session) recordCommand(kind message.Kind, err error, d time.Duration) {
	if s.server.Metrics != nil {
		s.server.Metrics.RecordCommand(kind.String(), err == nil || errors.Is(err, errExit), d)
	}
}

// ChangeDirCommand answers {cd: <new dir>} or {cd: ERR}.
func (s *Session) ChangeDirCommand(m message.Message) error {
	req := m.(message.Cd)
	dir, err := s.server.fs.ChangeDir(s.WorkingDir(), req.Path)
	if err != nil {
		if sendErr := s.conn.Send(message.Cd{Path: message.Failed}); sendErr != nil {
			return sendErr
		}
		return fault.Request(err)
	}
	s.setWorkingDir(dir)
	return s.conn.Send(message.Cd{Path: dir})
}

// ListCommand answers {ls: <tree>} or {ls: ERR}.
func (s *Session) ListCommand(m message.Message) error {
	req := m.(message.Ls)
	tree, err := s.server.fs.List(s.WorkingDir(), req.Arg)
	if err != nil {
		if sendErr := s.conn.Send(message.Ls{Arg: message.Failed}); sendErr != nil {
			return sendErr
		}
		return fault.Request(err)
	}
	return s.conn.Send(message.Ls{Arg: tree})
}

// GetCommand checks the file, answers OK or ERR and, after the client's ready
// acknowledgement, streams the file over the data channel.
func (s *Session) GetCommand(m message.Message) error {
	req := m.(message.Get)
	name, err := s.server.fs.Abs(s.WorkingDir(), req.Arg)
	if err == nil {
		_, err = s.server.fs.CheckFile(name)
	}
	if err == nil && s.server.inflight.Busy(name) {
		err = fmt.Errorf("%s is being uploaded", name)
	}
	if err != nil {
		if sendErr := s.conn.Send(message.Get{Arg: message.Failed}); sendErr != nil {
			return sendErr
		}
		return fault.Request(err)
	}

	if err := s.conn.Send(message.Get{Arg: message.StatusOK}); err != nil {
		return err
	}

	// the client opens its destination before it acknowledges
	ack, err := s.conn.Receive()
	if err != nil {
		return err
	}
	if g, ok := ack.(message.Get); !ok || g.Arg != message.Ready {
		return fault.Protocol(fmt.Errorf("expected get ready, got %s", ack.Kind()))
	}

	t := &transfer{op: opGet, name: name, done: make(chan transferResult, 1)}
	s.transfers <- t
	return (<-t.done).err
}

// PutCommand reserves a destination in the working directory, answers with the
// name the file will be saved under and, once the file is open, cues the client
// to stream.
func (s *Session) PutCommand(m message.Message) error {
	req := m.(message.Put)

	base := path.Base(strings.ReplaceAll(req.Path, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		if err := s.conn.Send(message.PutReply{Status: message.Failed, Info: "invalid file name"}); err != nil {
			return err
		}
		return fault.Request(fmt.Errorf("invalid file name %q", req.Path))
	}

	dest, err := s.server.fs.Abs(s.WorkingDir(), base)
	if err != nil {
		if sendErr := s.conn.Send(message.PutReply{Status: message.Failed, Info: err.Error()}); sendErr != nil {
			return sendErr
		}
		return fault.Request(err)
	}

	name := s.server.inflight.Reserve(dest, s.server.fs.Exists)
	defer s.server.inflight.Release(name)

	info := "File will be saved as " + path.Base(name)
	if err := s.conn.Send(message.PutReply{Status: message.StatusOK, Info: info}); err != nil {
		return err
	}

	t := &transfer{
		op:       opPut,
		name:     name,
		textMode: req.TextMode,
		opened:   make(chan error),
		done:     make(chan transferResult, 1),
	}
	s.transfers <- t
	if err := <-t.opened; err != nil {
		if sendErr := s.conn.Send(message.Error{Reason: err.Error()}); sendErr != nil {
			return sendErr
		}
		return fault.Request(err)
	}

	if err := s.conn.Send(message.PutReady{}); err != nil {
		return err
	}
	return (<-t.done).err
}

// ExitCommand ends the session.
func (s *Session) ExitCommand(message.Message) error {
	s.logger.Info("Client exit")
	return errExit
}

// UnknownCommand answers anything that is not a request with ERR.
func (s *Session) UnknownCommand(m message.Message) error {
	if err := s.conn.Send(message.Error{Reason: "unexpected message " + m.Kind().String()}); err != nil {
		return err
	}
	return fault.Request(fmt.Errorf("unexpected message %s", m.Kind()))
}
