package client

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/negotiate"
)

var (
	// ErrUnknownCommand is returned by Execute for a command it does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage is returned by Execute when the arguments do not fit the command.
	ErrUsage = errors.New("usage")
)

// Command describes one input line command.
type Command struct {
	Name        string
	Usage       string
	Description string
	Remote      bool
}

// Commands lists every command Execute understands, in help order.
var Commands = []Command{
	{Name: "cd", Usage: "cd <path>", Description: "change the remote directory", Remote: true},
	{Name: "ls", Usage: "ls [root [depth]]", Description: "list the remote directory tree, depth -1 is unlimited", Remote: true},
	{Name: "get", Usage: "get [-t|-b] <path>", Description: "download a file, -t for text mode", Remote: true},
	{Name: "put", Usage: "put [-t|-b] <path>", Description: "upload a file, -t for text mode", Remote: true},
	{Name: "lcd", Usage: "lcd <path>", Description: "change the local directory"},
	{Name: "lls", Usage: "lls [root [depth]]", Description: "list the local directory tree"},
	{Name: "lpwd", Usage: "lpwd", Description: "print the local directory"},
	{Name: "status", Usage: "status", Description: "show the session status"},
	{Name: "help", Usage: "help", Description: "show this help"},
	{Name: "exit", Usage: "exit", Description: "close the session", Remote: true},
}

// Execute runs one input line and returns what should be shown to the user.
func (c *Client) Execute(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name, args := fields[0], fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), name))

	switch name {
	case "cd":
		if len(args) != 1 {
			return "", usage("cd")
		}
		return c.ChangeDir(args[0])
	case "ls":
		return c.List(rest)
	case "get":
		p, textMode, err := transferArgs(args)
		if err != nil {
			return "", usage("get")
		}
		local, err := c.Get(p, textMode)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Saving %s as %s", p, local), nil
	case "put":
		p, textMode, err := transferArgs(args)
		if err != nil {
			return "", usage("put")
		}
		return c.Put(p, textMode)
	case "exit", "quit":
		return "", c.Exit()
	case "lcd":
		if len(args) != 1 {
			return "", usage("lcd")
		}
		return c.changeLocalDir(args[0])
	case "lls":
		return filesystem.ListLocal(c.localDir, rest, filesystem.Exclude{})
	case "lpwd":
		return c.localDir, nil
	case "status":
		return c.Status()
	case "help":
		return Help(), nil
	}
	return "", fmt.Errorf("%w %q, type help for a list", ErrUnknownCommand, name)
}

// transferArgs returns the first argument that is not a flag. -t and -T select
// text mode; anything else starting with - is ignored.
func transferArgs(args []string) (p string, textMode bool, err error) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			if a == "-t" || a == "-T" {
				textMode = true
			}
			continue
		}
		if p == "" {
			p = a
		}
	}
	if p == "" {
		return "", false, ErrUsage
	}
	return p, textMode, nil
}

func usage(name string) error {
	for _, cmd := range Commands {
		if cmd.Name == name {
			return fmt.Errorf("%w: %s", ErrUsage, cmd.Usage)
		}
	}
	return ErrUsage
}

func (c *Client) changeLocalDir(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.localDir, dir)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	c.localDir = filepath.Clean(dir)
	return c.localDir, nil
}

// Help renders the command list.
func Help() string {
	var b strings.Builder
	for _, cmd := range Commands {
		fmt.Fprintf(&b, "  %-22s %s\n", cmd.Usage, cmd.Description)
	}
	fmt.Fprintf(&b, "  %-22s %s", "fl", "flip the prompt between local and remote")
	return b.String()
}

// Status renders the session state as a table.
func (c *Client) Status() (string, error) {
	c.mu.Lock()
	rows := [][]string{
		{"Server", c.opts.Addr},
		{"User", c.user},
		{"Mode", modeName(c.opts.Mode)},
		{"TLS", strconv.FormatBool(c.opts.TLSConfig != nil)},
		{"Encrypted", strconv.FormatBool(c.Encrypted())},
		{"Remote dir", c.remoteDir},
		{"Local dir", c.localDir},
		{"Transfers", strconv.Itoa(c.stats.transfers)},
		{"Bytes sent", strconv.FormatInt(c.stats.sent, 10)},
		{"Bytes received", strconv.FormatInt(c.stats.received, 10)},
		{"Connected", time.Since(c.started).Round(time.Second).String()},
	}
	c.mu.Unlock()

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.Header("Session", "Value")
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return "", err
		}
	}
	if err := table.Render(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func modeName(m negotiate.Mode) string {
	switch m {
	case negotiate.Active:
		return "active"
	case negotiate.Passive:
		return "passive"
	}
	return string(m)
}
