package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const UiProtocolName = "keybase.1.ui"

type PromptYesNoArg struct {
	SessionID int  `json:"sessionID" cbor:"sessionID"`
	Text      Text `json:"text" cbor:"text"`
	Def       bool `json:"def" cbor:"def"`
}

type UiInterface interface {
	PromptYesNo(context.Context, PromptYesNoArg) (bool, error)
}

func UiProtocol(i UiInterface) registry.Protocol {
	return registry.Protocol{
		Name: UiProtocolName,
		Methods: map[string]registry.Handler{
			"promptYesNo": registry.Typed(i.PromptYesNo),
		},
	}
}

type UiClient struct {
	Cli rpc.GenericClient
}

func (c UiClient) PromptYesNo(ctx context.Context, arg PromptYesNoArg) (res bool, err error) {
	err = c.Cli.Call(ctx, UiProtocolName, "promptYesNo", arg, &res)
	return
}
