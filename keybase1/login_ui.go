package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const LoginUiProtocolName = "keybase.1.loginUi"

type GetEmailOrUsernameArg struct {
	SessionID int `json:"sessionID" cbor:"sessionID"`
}

type LoginUiInterface interface {
	GetEmailOrUsername(ctx context.Context, sessionID int) (string, error)
}

func LoginUiProtocol(i LoginUiInterface) registry.Protocol {
	return registry.Protocol{
		Name: LoginUiProtocolName,
		Methods: map[string]registry.Handler{
			"getEmailOrUsername": registry.Typed(func(ctx context.Context, arg GetEmailOrUsernameArg) (string, error) {
				return i.GetEmailOrUsername(ctx, arg.SessionID)
			}),
		},
	}
}

type LoginUiClient struct {
	Cli rpc.GenericClient
}

func (c LoginUiClient) GetEmailOrUsername(ctx context.Context, sessionID int) (res string, err error) {
	err = c.Cli.Call(ctx, LoginUiProtocolName, "getEmailOrUsername", GetEmailOrUsernameArg{SessionID: sessionID}, &res)
	return
}
