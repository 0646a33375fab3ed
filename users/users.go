// Package users holds the credential store and the authentication exchange.
package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"os"
	"strings"
	"sync"
)

// User is one account. Password is the lowercase hex sha512 digest of the clear
// password; the clear password is never stored.
type User struct {
	Username string
	Password string
	IPs      map[string]*netip.Prefix
}

// FindIP finds an IP in the prefixes in the user
func (u *User) FindIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, v := range u.IPs {
		if v.Contains(addr) {
			return true
		}
	}
	return false
}

// AddIP adds an IP prefix to the user
// if the ip is without the prefix, the whole address is used (/32 or /128)
func (u *User) AddIP(ip string) error {
	if !strings.Contains(ip, "/") {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return fmt.Errorf("error parsing IP: %w", err)
		}
		ip = fmt.Sprintf("%s/%d", addr, addr.BitLen())
	}

	prefix, err := netip.ParsePrefix(ip)
	if err != nil {
		return fmt.Errorf("error parsing IP: %w", err)
	}

	u.IPs[ip] = &prefix
	return nil
}

// RemoveIP removes an IP prefix from the user
func (u *User) RemoveIP(ip string) {
	if !strings.Contains(ip, "/") {
		if addr, err := netip.ParseAddr(ip); err == nil {
			ip = fmt.Sprintf("%s/%d", addr, addr.BitLen())
		}
	}
	delete(u.IPs, ip)
}

// Users is a read only credential store.
type Users interface {
	List() (map[string]*User, error)
	// Get finds a user by username
	Get(username string) (*User, error)
}

var _ Users = &LocalUsers{}

// ErrUserNotFound is returned by Get for unknown usernames.
var ErrUserNotFound = errors.New("user not found")

// LocalUsers is an in-memory credential store.
type LocalUsers struct {
	users map[string]*User
	wg    sync.RWMutex
}

func NewLocalUsers() *LocalUsers {
	return &LocalUsers{
		users: make(map[string]*User),
	}
}

// List returns a snapshot of all users.
func (u *LocalUsers) List() (map[string]*User, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	return maps.Clone(u.users), nil
}

func (u *LocalUsers) Get(username string) (*User, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	user, ok := u.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Add stores a user with an already hashed password.
func (u *LocalUsers) Add(user, passHash string) *User {
	u.wg.Lock()
	defer u.wg.Unlock()

	newUser := &User{
		Username: user,
		Password: strings.ToLower(passHash),
		IPs:      make(map[string]*netip.Prefix),
	}

	u.users[newUser.Username] = newUser
	return newUser
}

// AddPassword hashes password and stores the user.
func (u *LocalUsers) AddPassword(user, password string) *User {
	return u.Add(user, Hash(password))
}

func (u *LocalUsers) Remove(user string) *User {
	u.wg.Lock()
	defer u.wg.Unlock()
	oldUser := u.users[user]
	delete(u.users, user)
	return oldUser
}

type fileEntry struct {
	Pass string   `json:"pass"`
	IPs  []string `json:"ips"`
}

// LoadFile adds the users of a JSON credential file. Each value is either the hex
// digest or an object with the digest and an IP allow-list:
//
//	{"alice": "<sha512 hex>", "bob": {"pass": "<sha512 hex>", "ips": ["10.0.0.0/8"]}}
func (u *LocalUsers) LoadFile(name string) error {
	b, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("error reading credential file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("error parsing credential file: %w", err)
	}

	for username, value := range raw {
		var entry fileEntry
		if err := json.Unmarshal(value, &entry.Pass); err != nil {
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("error parsing credentials of %q: %w", username, err)
			}
		}
		if entry.Pass == "" {
			return fmt.Errorf("user %q has no password", username)
		}

		user := u.Add(username, entry.Pass)
		for _, ip := range entry.IPs {
			if err := user.AddIP(ip); err != nil {
				return fmt.Errorf("user %q: %w", username, err)
			}
		}
	}
	return nil
}
