package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"duplex-rpc/keybase1"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in, answering the daemon's prompts from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "username",
				Usage: "username to log in as; prompted for when empty",
			},
			&cli.BoolFlag{
				Name:  "switch",
				Usage: "switch to an already provisioned user instead of entering a passphrase",
			},
		},
		Action: cmdLogin,
	}
}

func cmdLogin(ctx *cli.Context) error {
	username := ctx.String("username")
	conn, err := dial(ctx, newTerminalUI(), username)
	if err != nil {
		return err
	}
	defer conn.Close()

	login := keybase1.LoginClient{Cli: conn}
	if ctx.Bool("switch") {
		if username == "" {
			return fmt.Errorf("--switch needs --username")
		}
		return login.SwitchUser(ctx.Context, username)
	}
	return login.PassphraseLogin(ctx.Context, keybase1.PassphraseLoginArg{Username: username})
}

// terminalUI answers the daemon's UI callbacks on the controlling terminal. Prompts are serialized.
type terminalUI struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	fd  int
}

var (
	_ keybase1.LoginUiInterface  = (*terminalUI)(nil)
	_ keybase1.SecretUiInterface = (*terminalUI)(nil)
	_ keybase1.LogUiInterface    = (*terminalUI)(nil)
	_ keybase1.UiInterface       = (*terminalUI)(nil)
)

func newTerminalUI() *terminalUI {
	return &terminalUI{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  int(os.Stdin.Fd()),
	}
}

func (t *terminalUI) GetEmailOrUsername(ctx context.Context, sessionID int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readLine("Username or email: ")
}

func (t *terminalUI) GetSecret(ctx context.Context, arg keybase1.GetSecretArg) (keybase1.SecretEntryRes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := arg.Pinentry
	if arg.Terminal != nil {
		entry = *arg.Terminal
	}
	if entry.Desc != "" {
		fmt.Fprintln(t.out, entry.Desc)
	}
	if entry.Err != "" {
		fmt.Fprintln(t.out, entry.Err)
	}
	text, err := t.readSecret(entry.Prompt + ": ")
	if err != nil {
		return keybase1.SecretEntryRes{}, err
	}
	return keybase1.SecretEntryRes{Text: text, Canceled: text == ""}, nil
}

func (t *terminalUI) GetKeybasePassphrase(ctx context.Context, arg keybase1.GetKeybasePassphraseArg) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if arg.Retry != "" {
		fmt.Fprintln(t.out, arg.Retry)
	}
	return t.readSecret(fmt.Sprintf("Passphrase for %s: ", arg.Username))
}

func (t *terminalUI) Log(ctx context.Context, arg keybase1.LogArg) error {
	if arg.Level == keybase1.LogLevel_DEBUG {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "▶ %s %s\n", arg.Level, arg.Text.Data)
	return nil
}

func (t *terminalUI) PromptYesNo(ctx context.Context, arg keybase1.PromptYesNoArg) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hint := "[y/N]"
	if arg.Def {
		hint = "[Y/n]"
	}
	answer, err := t.readLine(fmt.Sprintf("%s %s ", arg.Text.Data, hint))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return arg.Def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *terminalUI) readLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", keybase1.Canceled("input closed")
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo when stdin is a terminal.
func (t *terminalUI) readSecret(prompt string) (string, error) {
	if !term.IsTerminal(t.fd) {
		return t.readLine(prompt)
	}
	fmt.Fprint(t.out, prompt)
	b, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}
