package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const DeviceProtocolName = "keybase.1.device"

type DeviceListArg struct {
	SessionID int `json:"sessionID" cbor:"sessionID"`
}

type DeviceInterface interface {
	DeviceList(ctx context.Context, sessionID int) ([]Device, error)
}

func DeviceProtocol(i DeviceInterface) registry.Protocol {
	return registry.Protocol{
		Name: DeviceProtocolName,
		Methods: map[string]registry.Handler{
			"deviceList": registry.Typed(func(ctx context.Context, arg DeviceListArg) ([]Device, error) {
				return i.DeviceList(ctx, arg.SessionID)
			}),
		},
	}
}

type DeviceClient struct {
	Cli rpc.GenericClient
}

func (c DeviceClient) DeviceList(ctx context.Context) (res []Device, err error) {
	err = c.Cli.CallSession(ctx, DeviceProtocolName, "deviceList", func(sessionID int) any {
		return DeviceListArg{SessionID: sessionID}
	}, &res)
	return
}
