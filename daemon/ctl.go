package daemon

import (
	"context"

	"go.uber.org/zap"

	"duplex-rpc/registry"
)

const CtlProtocolName = "keybase.1.ctl"

type StopArg struct {
	Reason string `json:"reason" cbor:"reason"`
}

type PingArg struct{}

// Ctl controls the daemon process itself.
type Ctl struct {
	Logger *zap.Logger
	OnStop func()
}

// Stop asks the daemon to shut down. The reply goes out before shutdown starts.
func (c *Ctl) Stop(ctx context.Context, arg *StopArg) error {
	c.Logger.Info("stop requested", zap.String("reason", arg.Reason))
	if c.OnStop != nil {
		go c.OnStop()
	}
	return nil
}

func (c *Ctl) Ping(ctx context.Context, arg *PingArg) (string, error) {
	return "pong", nil
}

// CtlProtocol builds keybase.1.ctl from the methods of c.
func CtlProtocol(c *Ctl) (registry.Protocol, error) {
	return registry.Receiver(CtlProtocolName, c)
}
