package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"duplex-rpc/client"
	"duplex-rpc/config"
	"duplex-rpc/daemon"
	"duplex-rpc/keybase1"
	"duplex-rpc/metrics"
	"duplex-rpc/registry"
)

func scriptedUI(input string) (*terminalUI, *bytes.Buffer) {
	var out bytes.Buffer
	return &terminalUI{
		in:  bufio.NewReader(strings.NewReader(input)),
		out: &out,
		fd:  -1,
	}, &out
}

func TestTerminalUI(t *testing.T) {
	as := require.New(t)
	ui, out := scriptedUI("max\nhunter2\n\nn\n")
	ctx := context.Background()

	username, err := ui.GetEmailOrUsername(ctx, 1)
	as.NoError(err)
	as.Equal("max", username)

	pp, err := ui.GetKeybasePassphrase(ctx, keybase1.GetKeybasePassphraseArg{SessionID: 1, Username: "max", Retry: "try again"})
	as.NoError(err)
	as.Equal("hunter2", pp)
	as.Contains(out.String(), "try again")
	as.Contains(out.String(), "Passphrase for max: ")

	yes, err := ui.PromptYesNo(ctx, keybase1.PromptYesNoArg{Text: keybase1.Text{Data: "Switch?"}, Def: true})
	as.NoError(err)
	as.True(yes, "empty answer takes the default")

	yes, err = ui.PromptYesNo(ctx, keybase1.PromptYesNoArg{Text: keybase1.Text{Data: "Switch?"}, Def: true})
	as.NoError(err)
	as.False(yes)

	_, err = ui.GetEmailOrUsername(ctx, 1)
	var st *keybase1.Status
	as.ErrorAs(err, &st)
	as.Equal(keybase1.CodeCanceled, st.Code)
}

func TestDaemonServesLogin(t *testing.T) {
	as := require.New(t)
	cfg := config.Default()
	cfg.Heartbeat = 0
	cfg.Daemon.Accounts = []config.AccountConfig{{Username: "max", UID: "dbb165b7879fe7b1174df73bed0b9500", Passphrase: "hunter2"}}

	logger := zaptest.NewLogger(t)
	svc, err := daemon.New(cfg.Daemon, logger)
	as.NoError(err)
	methods := registry.New()
	svc.Register(methods)

	srv, closeDiscovery, err := newServer(cfg, methods, metrics.NewCollector(), logger)
	as.NoError(err)
	defer closeDiscovery()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	as.NoError(err)
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(l)
	}()
	defer func() {
		srv.Shutdown(context.Background())
		<-served
	}()

	cfg.Client.Address = l.Addr().String()
	ui, out := scriptedUI("hunter2\n")
	uiMethods := registry.New()
	uiMethods.RegisterProtocol(keybase1.SecretUiProtocol(ui))
	uiMethods.RegisterProtocol(keybase1.LogUiProtocol(ui))

	conn, err := client.Dial(context.Background(), cfg, uiMethods, client.WithLogger(logger))
	as.NoError(err)
	defer func() {
		conn.Close()
		<-conn.Dead()
	}()

	as.NoError(keybase1.LoginClient{Cli: conn}.PassphraseLogin(context.Background(), keybase1.PassphraseLoginArg{Username: "max"}))
	as.Contains(out.String(), "Logged in as max")

	st, err := keybase1.ConfigClient{Cli: conn}.GetCurrentStatus(context.Background())
	as.NoError(err)
	as.True(st.LoggedIn)
	as.Equal("max", st.User.Username)
}
