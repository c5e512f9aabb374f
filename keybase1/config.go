package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const ConfigProtocolName = "keybase.1.config"

type GetCurrentStatusArg struct{}

type ConfigInterface interface {
	GetCurrentStatus(context.Context) (GetCurrentStatusRes, error)
}

func ConfigProtocol(i ConfigInterface) registry.Protocol {
	return registry.Protocol{
		Name: ConfigProtocolName,
		Methods: map[string]registry.Handler{
			"getCurrentStatus": registry.Typed(func(ctx context.Context, _ GetCurrentStatusArg) (GetCurrentStatusRes, error) {
				return i.GetCurrentStatus(ctx)
			}),
		},
	}
}

type ConfigClient struct {
	Cli rpc.GenericClient
}

func (c ConfigClient) GetCurrentStatus(ctx context.Context) (res GetCurrentStatusRes, err error) {
	err = c.Cli.Call(ctx, ConfigProtocolName, "getCurrentStatus", GetCurrentStatusArg{}, &res)
	return
}
