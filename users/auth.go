package users

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/message"
)

// ErrAuth is returned when credentials are rejected. It is always an auth fault.
var ErrAuth = errors.New("authentication failed")

// Conn is the command channel the exchange runs on.
type Conn interface {
	Send(message.Message) error
	Receive() (message.Message, error)
}

// Hash returns the lowercase hex sha512 digest of password.
func Hash(password string) string {
	sum := sha512.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Login sends the credentials and waits for the verdict.
func Login(conn Conn, name, password string) error {
	if err := conn.Send(message.Auth{Name: name, Pass: Hash(password)}); err != nil {
		return err
	}
	m, err := conn.Receive()
	if err != nil {
		return err
	}
	status, ok := m.(message.Status)
	if !ok {
		return fault.Protocol(fmt.Errorf("expected status, got %s", m.Kind()))
	}
	if status.Status != message.StatusOK {
		return fault.Auth(fmt.Errorf("%w: server answered %s", ErrAuth, status.Status))
	}
	return nil
}

// Authenticate reads one credential message and checks it against store.
// A wrong password or a peer outside the user's allow-list is answered with INV;
// an unknown user gets no answer. Either way the caller closes the connection.
func Authenticate(conn Conn, store Users, remoteAddr string) (*User, error) {
	m, err := conn.Receive()
	if err != nil {
		return nil, err
	}
	auth, ok := m.(message.Auth)
	if !ok {
		return nil, fault.Protocol(fmt.Errorf("expected credentials, got %s", m.Kind()))
	}

	user, err := Verify(store, auth.Name, auth.Pass, remoteAddr)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fault.Auth(err)
	}
	if err != nil {
		if sendErr := conn.Send(message.Status{Status: message.StatusInvalid}); sendErr != nil {
			return nil, sendErr
		}
		return nil, fault.Auth(err)
	}

	if err := conn.Send(message.Status{Status: message.StatusOK}); err != nil {
		return nil, err
	}
	return user, nil
}

// Verify checks the hex digest passHash and the peer address of name against
// store. Errors wrap ErrAuth, and ErrUserNotFound for unknown names.
func Verify(store Users, name, passHash, remoteAddr string) (*User, error) {
	user, err := store.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrAuth, name, err)
	}
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(strings.ToLower(passHash))) != 1 {
		return nil, fmt.Errorf("%w: %q: wrong password", ErrAuth, name)
	}
	if len(user.IPs) > 0 && !user.FindIP(host(remoteAddr)) {
		return nil, fmt.Errorf("%w: %q: address not allowed %s", ErrAuth, name, remoteAddr)
	}
	return user, nil
}

func host(addr string) string {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return h
}
