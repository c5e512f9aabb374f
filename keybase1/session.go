package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const SessionProtocolName = "keybase.1.session"

type CurrentSessionArg struct{}

type SessionInterface interface {
	CurrentSession(context.Context) (Session, error)
}

func SessionProtocol(i SessionInterface) registry.Protocol {
	return registry.Protocol{
		Name: SessionProtocolName,
		Methods: map[string]registry.Handler{
			"currentSession": registry.Typed(func(ctx context.Context, _ CurrentSessionArg) (Session, error) {
				return i.CurrentSession(ctx)
			}),
		},
	}
}

type SessionClient struct {
	Cli rpc.GenericClient
}

func (c SessionClient) CurrentSession(ctx context.Context) (res Session, err error) {
	err = c.Cli.Call(ctx, SessionProtocolName, "currentSession", CurrentSessionArg{}, &res)
	return
}
