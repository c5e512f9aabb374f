package keybase1

import (
	"context"

	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

const SecretUiProtocolName = "keybase.1.secretUi"

type GetSecretArg struct {
	SessionID int             `json:"sessionID" cbor:"sessionID"`
	Pinentry  SecretEntryArg  `json:"pinentry" cbor:"pinentry"`
	Terminal  *SecretEntryArg `json:"terminal,omitempty" cbor:"terminal,omitempty"`
}

type GetKeybasePassphraseArg struct {
	SessionID int    `json:"sessionID" cbor:"sessionID"`
	Username  string `json:"username" cbor:"username"`
	Retry     string `json:"retry" cbor:"retry"`
}

type SecretUiInterface interface {
	GetSecret(context.Context, GetSecretArg) (SecretEntryRes, error)
	GetKeybasePassphrase(context.Context, GetKeybasePassphraseArg) (string, error)
}

func SecretUiProtocol(i SecretUiInterface) registry.Protocol {
	return registry.Protocol{
		Name: SecretUiProtocolName,
		Methods: map[string]registry.Handler{
			"getSecret":            registry.Typed(i.GetSecret),
			"getKeybasePassphrase": registry.Typed(i.GetKeybasePassphrase),
		},
	}
}

type SecretUiClient struct {
	Cli rpc.GenericClient
}

func (c SecretUiClient) GetSecret(ctx context.Context, arg GetSecretArg) (res SecretEntryRes, err error) {
	err = c.Cli.Call(ctx, SecretUiProtocolName, "getSecret", arg, &res)
	return
}

func (c SecretUiClient) GetKeybasePassphrase(ctx context.Context, arg GetKeybasePassphraseArg) (res string, err error) {
	err = c.Cli.Call(ctx, SecretUiProtocolName, "getKeybasePassphrase", arg, &res)
	return
}
