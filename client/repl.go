package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	errColor  = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

// REPL drives the input context from an interactive terminal.
type REPL struct {
	client *Client
	out    io.Writer
	// local selects the (local) prompt, flipped with fl
	local bool
}

func NewREPL(c *Client, out io.Writer) *REPL {
	return &REPL{client: c, out: out}
}

// Run blocks until the user exits, the session ends or stdin is closed with
// Ctrl+D. The caller closes the client afterwards.
func (r *REPL) Run() {
	infoColor.Fprintf(r.out, "Connected to %s, type help for a list of commands\n", r.client.opts.Addr)
	p := prompt.New(
		r.Execute,
		r.Complete,
		prompt.OptionTitle("twinftp"),
		prompt.OptionLivePrefix(r.Prefix),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionSetExitCheckerOnInput(r.exitChecker),
	)
	p.Run()
}

// Prefix renders "(remote) /dir> " or "(local) /dir> ".
func (r *REPL) Prefix() (string, bool) {
	if r.local {
		return fmt.Sprintf("(local) %s> ", r.client.LocalDir()), true
	}
	return fmt.Sprintf("(remote) %s> ", r.client.RemoteDir()), true
}

// Execute runs one line and prints the result.
func (r *REPL) Execute(line string) {
	line = strings.TrimSpace(line)
	if line == "fl" {
		r.local = !r.local
		return
	}
	if r.ended() {
		errColor.Fprintln(r.out, "Session closed")
		return
	}

	out, err := r.client.Execute(line)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			err = r.client.Wait()
		}
		if err != nil {
			errColor.Fprintln(r.out, err)
		}
		return
	}
	if out != "" {
		fmt.Fprintln(r.out, out)
	}
}

// Complete suggests command names for the first word.
func (r *REPL) Complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	if strings.Contains(text, " ") {
		return nil
	}
	suggestions := make([]prompt.Suggest, 0, len(Commands)+1)
	for _, cmd := range Commands {
		suggestions = append(suggestions, prompt.Suggest{Text: cmd.Name, Description: cmd.Description})
	}
	suggestions = append(suggestions, prompt.Suggest{Text: "fl", Description: "flip the prompt between local and remote"})
	return prompt.FilterHasPrefix(suggestions, text, true)
}

func (r *REPL) ended() bool {
	select {
	case <-r.client.Done():
		return true
	default:
		return false
	}
}

func (r *REPL) exitChecker(_ string, breakline bool) bool {
	return breakline && r.ended()
}

// ReadCredentials asks for a username on in and a password without echo when in
// is a terminal.
func ReadCredentials(in *os.File, out io.Writer) (name, password string, err error) {
	reader := bufio.NewReader(in)
	fmt.Fprint(out, "Username: ")
	name, err = reader.ReadString('\n')
	if err != nil && name == "" {
		return "", "", fmt.Errorf("error reading username: %w", err)
	}
	name = strings.TrimSpace(name)

	fmt.Fprint(out, "Password: ")
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", "", fmt.Errorf("error reading password: %w", err)
		}
		return name, string(b), nil
	}
	password, err = reader.ReadString('\n')
	if err != nil && password == "" {
		return "", "", fmt.Errorf("error reading password: %w", err)
	}
	return name, strings.TrimSpace(password), nil
}
