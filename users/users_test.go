package users

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/message"
)

func TestHash(t *testing.T) {
	// sha512("secret")
	want := "bd2b1aaf7ef4f09be9f52ce2d8d599674d81aa9d6a4421696dc4d93dd0619d682ce56b4d64a9ef097761ced99e0f67265b5f76085e5b0ee7ca4696b2ad6fe2b2"
	if got := Hash("secret"); got != want {
		t.Fatalf("Hash = %s", got)
	}
}

func TestUserIPs(t *testing.T) {
	u := NewLocalUsers().Add("bob", Hash("pw"))
	for _, ip := range []string{"10.0.0.0/8", "192.168.1.7", "::1"} {
		if err := u.AddIP(ip); err != nil {
			t.Fatal(err)
		}
	}
	if err := u.AddIP("not-an-ip"); err == nil {
		t.Fatal("expected error for bad ip")
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"::1", true},
		{"::ffff:10.0.0.1", true},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := u.FindIP(tt.ip); got != tt.want {
			t.Errorf("FindIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	u.RemoveIP("192.168.1.7")
	if u.FindIP("192.168.1.7") {
		t.Fatal("ip still allowed after RemoveIP")
	}
}

func TestLocalUsers(t *testing.T) {
	store := NewLocalUsers()
	store.AddPassword("alice", "secret")

	u, err := store.Get("alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Password != Hash("secret") {
		t.Fatal("password not hashed")
	}
	if _, err := store.Get("mallory"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}

	list, _ := store.List()
	delete(list, "alice")
	if _, err := store.Get("alice"); err != nil {
		t.Fatal("List returned the internal map")
	}

	store.Remove("alice")
	if _, err := store.Get("alice"); err == nil {
		t.Fatal("user still present after Remove")
	}
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"digest only", `{"alice":"` + Hash("secret") + `"}`, false},
		{"with ips", `{"alice":{"pass":"` + Hash("secret") + `","ips":["127.0.0.1"]}}`, false},
		{"not json", `alice:secret`, true},
		{"no password", `{"alice":{}}`, true},
		{"bad ip", `{"alice":{"pass":"ab","ips":["x"]}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := filepath.Join(t.TempDir(), "auth.json")
			if err := os.WriteFile(name, []byte(tt.body), 0600); err != nil {
				t.Fatal(err)
			}
			store := NewLocalUsers()
			err := store.LoadFile(name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			u, err := store.Get("alice")
			if err != nil {
				t.Fatal(err)
			}
			if u.Password != Hash("secret") {
				t.Fatalf("password = %s", u.Password)
			}
		})
	}
}

func pipe() (client, server *message.Conn) {
	c, s := net.Pipe()
	return message.NewConn(c, 0, nil), message.NewConn(s, 0, nil)
}

func TestAuthenticate(t *testing.T) {
	store := NewLocalUsers()
	store.AddPassword("alice", "secret")
	restricted := store.AddPassword("bob", "pw")
	if err := restricted.AddIP("10.0.0.0/8"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		user, pass string
		remote     string
		wantErr    bool
	}{
		{"ok", "alice", "secret", "127.0.0.1:5000", false},
		{"wrong password", "alice", "nope", "127.0.0.1:5000", true},
		{"allowed address", "bob", "pw", "10.2.3.4:1234", false},
		{"address not allowed", "bob", "pw", "127.0.0.1:1234", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := pipe()
			defer client.Close()
			defer server.Close()

			errC := make(chan error, 1)
			go func() {
				_, err := Authenticate(server, store, tt.remote)
				errC <- err
			}()

			loginErr := Login(client, tt.user, tt.pass)
			authErr := <-errC

			if tt.wantErr {
				if !errors.Is(loginErr, ErrAuth) || !errors.Is(loginErr, fault.ErrAuth) {
					t.Fatalf("Login err = %v, want auth fault", loginErr)
				}
				if !errors.Is(authErr, ErrAuth) {
					t.Fatalf("Authenticate err = %v, want ErrAuth", authErr)
				}
				return
			}
			if loginErr != nil || authErr != nil {
				t.Fatalf("Login = %v, Authenticate = %v", loginErr, authErr)
			}
		})
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	client, server := pipe()
	defer client.Close()

	errC := make(chan error, 1)
	go func() {
		_, err := Authenticate(server, NewLocalUsers(), "127.0.0.1:1")
		// the caller closes the connection without answering
		server.Close()
		errC <- err
	}()

	loginErr := Login(client, "ghost", "x")
	if !errors.Is(<-errC, ErrAuth) {
		t.Fatal("expected ErrAuth for an unknown user")
	}
	if !errors.Is(loginErr, fault.ErrTransport) {
		t.Fatalf("Login err = %v, want transport fault", loginErr)
	}
}

func TestAuthenticateWrongMessage(t *testing.T) {
	client, server := pipe()
	defer client.Close()
	defer server.Close()

	go client.Send(message.Ls{Arg: ""})
	if _, err := Authenticate(server, NewLocalUsers(), ""); !errors.Is(err, fault.ErrProtocol) {
		t.Fatalf("err = %v, want protocol fault", err)
	}
}

func TestVerify(t *testing.T) {
	store := NewLocalUsers()
	store.AddPassword("alice", "secret")
	bob := store.AddPassword("bob", "pw")
	if err := bob.AddIP("192.168.1.7"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		user, pass string
		remote     string
		notFound   bool
		wantErr    bool
	}{
		{"ok", "alice", "secret", "127.0.0.1:22", false, false},
		{"bare address", "alice", "secret", "127.0.0.1", false, false},
		{"wrong password", "alice", "x", "127.0.0.1:22", false, true},
		{"unknown", "carol", "secret", "127.0.0.1:22", true, true},
		{"allowed address", "bob", "pw", "192.168.1.7:22", false, false},
		{"mapped address", "bob", "pw", "[::ffff:192.168.1.7]:22", false, false},
		{"other address", "bob", "pw", "192.168.1.8:22", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Verify(store, tt.user, Hash(tt.pass), tt.remote)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrAuth) {
					t.Errorf("err = %v, want ErrAuth", err)
				}
				if errors.Is(err, ErrUserNotFound) != tt.notFound {
					t.Errorf("err = %v, notFound %v", err, tt.notFound)
				}
				return
			}
			if u.Username != tt.user {
				t.Errorf("user = %q", u.Username)
			}
		})
	}
}
