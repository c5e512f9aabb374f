package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const LoginProtocolName = "keybase.1.login"

// PassphraseLoginArg starts a login session. Missing Username or Passphrase are asked for through
// loginUi and secretUi callbacks in that session.
type PassphraseLoginArg struct {
	SessionID  int    `json:"sessionID" cbor:"sessionID"`
	Identify   bool   `json:"identify" cbor:"identify"`
	Username   string `json:"username" cbor:"username"`
	Passphrase string `json:"passphrase" cbor:"passphrase"`
}

type LogoutArg struct{}

type SwitchUserArg struct {
	SessionID int    `json:"sessionID" cbor:"sessionID"`
	Username  string `json:"username" cbor:"username" rpc:"required"`
}

type LoginInterface interface {
	PassphraseLogin(context.Context, PassphraseLoginArg) error
	Logout(context.Context) error
	SwitchUser(context.Context, SwitchUserArg) error
}

func LoginProtocol(i LoginInterface) registry.Protocol {
	return registry.Protocol{
		Name: LoginProtocolName,
		Methods: map[string]registry.Handler{
			"passphraseLogin": registry.TypedVoid(i.PassphraseLogin),
			"logout": registry.TypedVoid(func(ctx context.Context, _ LogoutArg) error {
				return i.Logout(ctx)
			}),
			"switchUser": registry.TypedVoid(i.SwitchUser),
		},
	}
}

type LoginClient struct {
	Cli rpc.GenericClient
}

// PassphraseLogin starts a session; arg.SessionID is assigned by the connection.
func (c LoginClient) PassphraseLogin(ctx context.Context, arg PassphraseLoginArg) error {
	return c.Cli.CallSession(ctx, LoginProtocolName, "passphraseLogin", func(sessionID int) any {
		arg.SessionID = sessionID
		return arg
	}, nil)
}

func (c LoginClient) Logout(ctx context.Context) error {
	return c.Cli.Call(ctx, LoginProtocolName, "logout", LogoutArg{}, nil)
}

// SwitchUser starts a session, since the daemon may ask for confirmation through ui.promptYesNo.
func (c LoginClient) SwitchUser(ctx context.Context, username string) error {
	return c.Cli.CallSession(ctx, LoginProtocolName, "switchUser", func(sessionID int) any {
		return SwitchUserArg{SessionID: sessionID, Username: username}
	}, nil)
}
