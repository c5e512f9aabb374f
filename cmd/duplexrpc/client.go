package main

import (
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"duplex-rpc/client"
	"duplex-rpc/daemon"
	"duplex-rpc/keybase1"
	"duplex-rpc/middleware"
	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show the daemon's configuration and login state",
		Action: cmdStatus,
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "log the current user out",
		Action: cmdLogout,
	}
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:   "devices",
		Usage:  "list the current user's devices",
		Action: cmdDevices,
	}
}

func stopCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "stop the daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "reason",
				Value: "requested from the command line",
			},
		},
		Action: cmdStop,
	}
}

// dial connects to the daemon, serving ui (if any) for its callbacks.
func dial(ctx *cli.Context, ui *terminalUI, key string) (*rpc.Conn, error) {
	methods := registry.New()
	if ui != nil {
		methods.RegisterProtocol(keybase1.LoginUiProtocol(ui))
		methods.RegisterProtocol(keybase1.SecretUiProtocol(ui))
		methods.RegisterProtocol(keybase1.LogUiProtocol(ui))
		methods.RegisterProtocol(keybase1.UiProtocol(ui))
	}
	return client.Dial(ctx.Context, appConfig(ctx), methods,
		client.WithLogger(appLogger(ctx).Named("client")),
		client.WithKey(key),
		client.WithConnOptions(rpc.WithMiddleware(middleware.StaleSessionGuard())),
	)
}

func cmdStatus(ctx *cli.Context) error {
	conn, err := dial(ctx, nil, "")
	if err != nil {
		return err
	}
	defer conn.Close()

	st, err := keybase1.ConfigClient{Cli: conn}.GetCurrentStatus(ctx.Context)
	if err != nil {
		return err
	}

	statusTable := table.NewWriter()
	statusTable.SetOutputMirror(os.Stdout)
	statusTable.AppendHeader(table.Row{"Field", "Value"})
	statusTable.AppendRow(table.Row{"Configured", st.Configured})
	statusTable.AppendRow(table.Row{"Registered", st.Registered})
	statusTable.AppendRow(table.Row{"Logged in", st.LoggedIn})
	if st.User != nil {
		statusTable.AppendRow(table.Row{"Username", st.User.Username})
		statusTable.AppendRow(table.Row{"UID", st.User.UID.String()})
	} else {
		statusTable.AppendRow(table.Row{"Username", "(none)"})
	}
	if st.ServerURI != "" {
		statusTable.AppendRow(table.Row{"Server", st.ServerURI})
	}
	statusTable.SetStyle(table.StyleDefault)
	statusTable.Render()
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	conn, err := dial(ctx, nil, "")
	if err != nil {
		return err
	}
	defer conn.Close()
	return keybase1.LoginClient{Cli: conn}.Logout(ctx.Context)
}

func cmdDevices(ctx *cli.Context) error {
	ui := newTerminalUI()
	conn, err := dial(ctx, ui, "")
	if err != nil {
		return err
	}
	defer conn.Close()

	devices, err := keybase1.DeviceClient{Cli: conn}.DeviceList(ctx.Context)
	if err != nil {
		return err
	}

	deviceTable := table.NewWriter()
	deviceTable.SetOutputMirror(os.Stdout)
	deviceTable.AppendHeader(table.Row{"#", "Name", "Type", "Device ID"})
	for i, d := range devices {
		deviceTable.AppendRow(table.Row{strconv.Itoa(i + 1), d.Name, d.Type, d.DeviceID})
	}
	deviceTable.SetStyle(table.StyleDefault)
	deviceTable.Style().Options.SeparateRows = true
	deviceTable.Render()
	return nil
}

func cmdStop(ctx *cli.Context) error {
	conn, err := dial(ctx, nil, "")
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Call(ctx.Context, daemon.CtlProtocolName, "stop", daemon.StopArg{Reason: ctx.String("reason")}, nil)
}
