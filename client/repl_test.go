package client

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestREPL(t *testing.T) {
	dir := t.TempDir()
	c := &Client{localDir: dir, remoteDir: "/docs"}
	var out bytes.Buffer
	r := NewREPL(c, &out)

	if got, _ := r.Prefix(); got != "(remote) /docs> " {
		t.Fatalf("prefix = %q", got)
	}
	r.Execute("fl")
	if got, _ := r.Prefix(); got != "(local) "+dir+"> " {
		t.Fatalf("prefix after fl = %q", got)
	}
	r.Execute(" fl ")
	if got, _ := r.Prefix(); !strings.HasPrefix(got, "(remote)") {
		t.Fatalf("prefix after second fl = %q", got)
	}

	r.Execute("lpwd")
	r.Execute("nope")
	got := out.String()
	if !strings.Contains(got, dir+"\n") {
		t.Errorf("lpwd not printed: %q", got)
	}
	if !strings.Contains(got, `unknown command "nope"`) {
		t.Errorf("error not printed: %q", got)
	}
}

func TestReadCredentialsFromPipe(t *testing.T) {
	in, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	if _, err := w.WriteString("alice\nsecret\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	var out bytes.Buffer
	name, password, err := ReadCredentials(in, &out)
	if err != nil {
		t.Fatal(err)
	}
	if name != "alice" || password != "secret" {
		t.Fatalf("got %q/%q", name, password)
	}
	if out.String() != "Username: Password: " {
		t.Errorf("prompts = %q", out.String())
	}
}
