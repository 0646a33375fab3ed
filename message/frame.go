package message

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/telebroad/twinftp/fault"
)

const (
	// HeaderLength is the width of the length header preceding every frame.
	HeaderLength = 10
	// MaxMessageSize bounds command channel payloads.
	MaxMessageSize = 16 << 20
	// MaxFrameSize bounds data channel payloads. A file travels as a single frame.
	MaxFrameSize = 1 << 30
)

// ErrPeerClosed is returned when the peer closed the stream between two frames.
// It is always wrapped as a transport fault.
var ErrPeerClosed = errors.New("peer closed the connection")

// header renders n left-justified and space padded, e.g. "42        ".
func header(n int) []byte {
	return []byte(fmt.Sprintf("%-*d", HeaderLength, n))
}

// WriteFrame writes header and payload with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fault.Protocol(fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrMalformed, len(payload), MaxFrameSize))
	}
	buf := make([]byte, 0, HeaderLength+len(payload))
	buf = append(buf, header(len(payload))...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fault.Transport(fmt.Errorf("error writing frame: %w", err))
	}
	return nil
}

// ReadFrame reads one frame whose payload may not exceed limit bytes.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	head := make([]byte, HeaderLength)
	n, err := io.ReadFull(r, head)
	if err != nil {
		switch {
		case n == 0 && errors.Is(err, io.EOF):
			return nil, fault.Transport(ErrPeerClosed)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, malformed("short header %q", head[:n])
		default:
			return nil, fault.Transport(fmt.Errorf("error reading frame header: %w", err))
		}
	}

	size, err := strconv.Atoi(strings.TrimSpace(string(head)))
	if err != nil {
		return nil, malformed("non-numeric header %q", head)
	}
	if size < 0 || size > limit {
		return nil, malformed("frame length %d out of range", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, malformed("short payload, want %d bytes", size)
		}
		return nil, fault.Transport(fmt.Errorf("error reading frame payload: %w", err))
	}
	return payload, nil
}

// Send encodes m and writes it as one frame.
func Send(w io.Writer, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return fault.Protocol(err)
	}
	return WriteFrame(w, b)
}

// Receive reads one frame and decodes it.
func Receive(r io.Reader) (Message, error) {
	b, err := ReadFrame(r, MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}
