// Package fault holds the error taxonomy shared by both peers.
//
// Every error that crosses a package boundary is wrapped with exactly one of the
// kinds below so callers can decide between tearing the session down
// (transport, protocol, auth) and answering a single request with ERR (request).
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is a connection refused/reset/timeout or peer close. Fatal to the session.
	ErrTransport = errors.New("transport fault")
	// ErrProtocol is a malformed frame, unexpected message or negotiation mismatch. Fatal to the session.
	ErrProtocol = errors.New("protocol fault")
	// ErrAuth is a credential mismatch. The connection is closed by the caller.
	ErrAuth = errors.New("auth fault")
	// ErrRequest is an invalid path or missing file. Only the current request fails.
	ErrRequest = errors.New("request fault")
)

// Transport marks err as a transport fault.
func Transport(err error) error { return wrap(ErrTransport, err) }

// Protocol marks err as a protocol fault.
func Protocol(err error) error { return wrap(ErrProtocol, err) }

// Auth marks err as an auth fault.
func Auth(err error) error { return wrap(ErrAuth, err) }

// Request marks err as a request fault.
func Request(err error) error { return wrap(ErrRequest, err) }

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// IsFatal reports whether err should end the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRequest)
}
