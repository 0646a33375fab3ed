package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/telebroad/twinftp/fault"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/negotiate"
	"github.com/telebroad/twinftp/server"
	"github.com/telebroad/twinftp/users"
)

var silent = slog.New(slog.NewTextHandler(io.Discard, nil))

// startServer serves a root holding /docs/a.txt and /readme.md.
func startServer(t *testing.T, encrypt bool) (*server.Server, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("alpha"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "readme.md"), []byte("# readme"), 0644); err != nil {
		t.Fatal(err)
	}

	store := users.NewLocalUsers()
	store.AddPassword("alice", "secret")

	srv, err := server.NewServer("127.0.0.1:0", filesystem.NewLocalFS(root), store)
	if err != nil {
		t.Fatal(err)
	}
	srv.Encrypt = encrypt
	srv.SetLogger(silent)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { _ = srv.Close(nil) })

	for i := 0; i < 100 && srv.ListenerAddr() == nil; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.ListenerAddr() == nil {
		t.Fatal("server is not listening")
	}
	return srv, root
}

// connect logs in as alice and joins the data channel. The local working
// directory is a fresh temp dir.
func waitSessionsGone(t *testing.T, srv *server.Server) {
	t.Helper()
	for i := 0; i < 500 && len(srv.Sessions()) > 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(srv.Sessions()); n > 0 {
		t.Fatalf("%d sessions still open", n)
	}
}

func connect(t *testing.T, srv *server.Server, mode negotiate.Mode) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Options{
		Addr:     srv.ListenerAddr().String(),
		Mode:     mode,
		LocalDir: t.TempDir(),
		Logger:   silent,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Output = io.Discard
	if err := c.Login("alice", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := c.Join(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestTransferArgs(t *testing.T) {
	tests := []struct {
		args     string
		want     string
		textMode bool
		wantErr  bool
	}{
		{"a.txt", "a.txt", false, false},
		{"-t a.txt", "a.txt", true, false},
		{"-T a.txt", "a.txt", true, false},
		{"-b a.txt", "a.txt", false, false},
		{"a.txt -t", "a.txt", true, false},
		{"a.txt b.txt", "a.txt", false, false},
		{"-t", "", false, true},
		{"", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, textMode, err := transferArgs(strings.Fields(tt.args))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want || textMode != tt.textMode {
				t.Errorf("got (%q, %v), want (%q, %v)", got, textMode, tt.want, tt.textMode)
			}
		})
	}
}

func TestExecuteLocal(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "x.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	c := &Client{localDir: dir}

	if got, err := c.Execute("lpwd"); err != nil || got != dir {
		t.Fatalf("lpwd = %q, %v", got, err)
	}
	if got, err := c.Execute("lls"); err != nil || got != dir+"/\n└── sub/" {
		t.Fatalf("lls = %q, %v", got, err)
	}
	if got, err := c.Execute("lcd sub"); err != nil || got != filepath.Join(dir, "sub") {
		t.Fatalf("lcd = %q, %v", got, err)
	}
	if got, err := c.Execute("lls . -1"); err != nil || !strings.HasSuffix(got, "└── x.txt") {
		t.Fatalf("lls after lcd = %q, %v", got, err)
	}
	if _, err := c.Execute("lcd missing"); err == nil {
		t.Fatal("lcd missing succeeded")
	}
	if _, err := c.Execute("lcd x.txt"); err == nil {
		t.Fatal("lcd into a file succeeded")
	}
	if got, _ := c.Execute("lpwd"); got != filepath.Join(dir, "sub") {
		t.Fatalf("failed lcd moved to %q", got)
	}

	if got, err := c.Execute("   "); err != nil || got != "" {
		t.Fatalf("blank line = %q, %v", got, err)
	}
	if got, err := c.Execute("help"); err != nil || !strings.Contains(got, "get [-t|-b] <path>") {
		t.Fatalf("help = %q, %v", got, err)
	}
	if _, err := c.Execute("mkdir x"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("unknown command err = %v", err)
	}
	for _, line := range []string{"cd", "cd a b", "get", "put -t", "lcd"} {
		if _, err := c.Execute(line); !errors.Is(err, ErrUsage) {
			t.Errorf("%q: err = %v, want usage", line, err)
		}
	}
}

func TestSession(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		for _, mode := range []negotiate.Mode{negotiate.Passive, negotiate.Active} {
			name := string(mode) + map[bool]string{true: "-encrypted", false: "-plain"}[encrypt]
			t.Run(name, func(t *testing.T) {
				srv, root := startServer(t, encrypt)
				c := connect(t, srv, mode)

				if c.Encrypted() != encrypt {
					t.Fatalf("Encrypted() = %v", c.Encrypted())
				}
				if got, err := c.Execute("ls"); err != nil || got != "/\n├── docs/\n└── readme.md" {
					t.Fatalf("ls = %q, %v", got, err)
				}
				if got, err := c.Execute("cd docs"); err != nil || got != "/docs" {
					t.Fatalf("cd = %q, %v", got, err)
				}
				if c.RemoteDir() != "/docs" {
					t.Fatalf("RemoteDir() = %q", c.RemoteDir())
				}

				local, err := c.Get("a.txt", false)
				if err != nil {
					t.Fatal(err)
				}
				if local != filepath.Join(c.LocalDir(), "a.txt") {
					t.Fatalf("local name = %q", local)
				}

				if err := os.WriteFile(filepath.Join(c.LocalDir(), "b.bin"), []byte{0, 1, 2, 255}, 0644); err != nil {
					t.Fatal(err)
				}
				info, err := c.Put("b.bin", false)
				if err != nil {
					t.Fatal(err)
				}
				if info != "File will be saved as b.bin" {
					t.Fatalf("put info = %q", info)
				}

				// put has no completion reply, the server finishes the upload
				// before it handles exit and drops the session
				if err := c.Exit(); err != nil {
					t.Fatal(err)
				}
				if err := c.Wait(); err != nil {
					t.Fatalf("Wait() = %v", err)
				}
				waitSessionsGone(t, srv)
				if got := readFile(t, local); got != "alpha" {
					t.Errorf("downloaded %q", got)
				}
				if got := readFile(t, filepath.Join(root, "docs", "b.bin")); got != "\x00\x01\x02\xff" {
					t.Errorf("uploaded %q", got)
				}
				if _, err := c.Execute("ls"); !errors.Is(err, ErrClosed) {
					t.Errorf("request after exit: err = %v", err)
				}
			})
		}
	}
}

func TestGetCollision(t *testing.T) {
	srv, _ := startServer(t, true)
	c := connect(t, srv, negotiate.Passive)

	first, err := c.Get("readme.md", false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Get("readme.md", false)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("both downloads saved as %s", first)
	}
	if !regexp.MustCompile(`^readme_\d{10}\.md$`).MatchString(filepath.Base(second)) {
		t.Fatalf("collision name = %s", second)
	}

	if _, err := c.List(""); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{first, second} {
		if got := readFile(t, name); got != "# readme" {
			t.Errorf("%s = %q", name, got)
		}
	}
}

func TestPutCollision(t *testing.T) {
	srv, root := startServer(t, false)
	c := connect(t, srv, negotiate.Passive)

	if err := os.WriteFile(filepath.Join(c.LocalDir(), "readme.md"), []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := c.Execute("put readme.md")
	if err != nil {
		t.Fatal(err)
	}
	m := regexp.MustCompile(`^File will be saved as (readme_\d{10}\.md)$`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("put info = %q", out)
	}
	if _, err := c.List(""); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(root, m[1])); got != "new" {
		t.Errorf("uploaded %q", got)
	}
	if got := readFile(t, filepath.Join(root, "readme.md")); got != "# readme" {
		t.Errorf("original overwritten: %q", got)
	}
}

func TestTextMode(t *testing.T) {
	srv, root := startServer(t, true)
	c := connect(t, srv, negotiate.Passive)

	want := "one\ntwo\n"
	if runtime.GOOS == "windows" {
		want = "one\r\ntwo\r\n"
	}

	if err := os.WriteFile(filepath.Join(root, "crlf.txt"), []byte("one\r\ntwo\r\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := c.Execute("get -t crlf.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Saving crlf.txt as ") {
		t.Fatalf("get output = %q", out)
	}

	if err := os.WriteFile(filepath.Join(c.LocalDir(), "up.txt"), []byte("one\r\ntwo\r\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Execute("put -t up.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.List(""); err != nil {
		t.Fatal(err)
	}

	if got := readFile(t, filepath.Join(c.LocalDir(), "crlf.txt")); got != want {
		t.Errorf("downloaded %q, want %q", got, want)
	}
	if got := readFile(t, filepath.Join(root, "up.txt")); got != want {
		t.Errorf("uploaded %q, want %q", got, want)
	}
}

func TestRequestFaults(t *testing.T) {
	srv, _ := startServer(t, false)
	c := connect(t, srv, negotiate.Active)

	tests := []struct {
		name string
		line string
	}{
		{"cd missing", "cd missing"},
		{"cd outside root", "cd ../.."},
		{"ls too many", "ls a b c"},
		{"get missing", "get missing.txt"},
		{"get directory", "get docs"},
		{"put missing", "put missing.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Execute(tt.line)
			if !errors.Is(err, fault.ErrRequest) {
				t.Fatalf("err = %v, want a request fault", err)
			}
		})
	}

	// the session survives every failed request
	if got, err := c.ChangeDir("docs"); err != nil || got != "/docs" {
		t.Fatalf("cd after faults = %q, %v", got, err)
	}
	if got, err := c.Execute("status"); err != nil || !strings.Contains(got, "/docs") || !strings.Contains(got, "active") {
		t.Fatalf("status = %q, %v", got, err)
	}
}

func TestPutAbortedByServer(t *testing.T) {
	srv, root := startServer(t, false)
	c := connect(t, srv, negotiate.Passive)
	var out bytes.Buffer
	c.Output = &out

	if err := os.MkdirAll(filepath.Join(root, "gone"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ChangeDir("gone"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "gone")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.LocalDir(), "up.txt"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	info, err := c.Put("up.txt", false)
	if err != nil {
		t.Fatal(err)
	}
	if info != "File will be saved as up.txt" {
		t.Fatalf("put info = %q", info)
	}

	// the next request is served once the aborted upload was handled
	if _, err := c.ChangeDir("/"); err != nil {
		t.Fatalf("session did not survive the aborted upload: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "Upload of ") || !strings.Contains(got, "up.txt failed") {
		t.Fatalf("output = %q", got)
	}
	if strings.Contains(out.String(), "Uploaded") {
		t.Fatalf("aborted upload reported as done: %q", out.String())
	}
}

func TestOneRequestInFlight(t *testing.T) {
	srv, _ := startServer(t, true)
	c := connect(t, srv, negotiate.Passive)

	var wg sync.WaitGroup
	names := make([]string, 4)
	errs := make([]error, len(names))
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i], errs[i] = c.Get("docs/a.txt", false)
		}(i)
	}
	wg.Wait()
	if _, err := c.List(""); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for i, name := range names {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if seen[name] {
			t.Fatalf("%s downloaded twice", name)
		}
		seen[name] = true
		if got := readFile(t, name); got != "alpha" {
			t.Errorf("%s = %q", name, got)
		}
	}
}

func TestLoginRejected(t *testing.T) {
	srv, _ := startServer(t, false)
	c, err := Dial(context.Background(), Options{Addr: srv.ListenerAddr().String(), Logger: silent})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Login("alice", "wrong"); !errors.Is(err, fault.ErrAuth) {
		t.Fatalf("err = %v, want an auth fault", err)
	}
}

func TestServerGone(t *testing.T) {
	srv, _ := startServer(t, false)
	c := connect(t, srv, negotiate.Passive)

	if err := srv.Close(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ChangeDir("docs"); !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("err = %v, want a transport fault", err)
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	if err := c.Wait(); !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("Wait() = %v", err)
	}
	if _, err := c.ChangeDir("docs"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err after teardown = %v", err)
	}
}
