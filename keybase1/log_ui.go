package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const LogUiProtocolName = "keybase.1.logUi"

type LogArg struct {
	SessionID int      `json:"sessionID" cbor:"sessionID"`
	Level     LogLevel `json:"level" cbor:"level"`
	Text      Text     `json:"text" cbor:"text"`
}

type LogUiInterface interface {
	Log(context.Context, LogArg) error
}

func LogUiProtocol(i LogUiInterface) registry.Protocol {
	return registry.Protocol{
		Name: LogUiProtocolName,
		Methods: map[string]registry.Handler{
			"log": registry.TypedVoid(i.Log),
		},
	}
}

type LogUiClient struct {
	Cli rpc.GenericClient
}

func (c LogUiClient) Log(ctx context.Context, arg LogArg) error {
	return c.Cli.Call(ctx, LogUiProtocolName, "log", arg, nil)
}
