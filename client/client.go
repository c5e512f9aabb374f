// Package client dials a duplex-rpc daemon and starts the connection's dispatcher.
//
// The daemon is found either at a static address or through discovery plus a load balancer. Dialing is the
// only place duplex-rpc retries: a failed dial is attempted again, a failed call never is.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"duplex-rpc/codec"
	"duplex-rpc/config"
	"duplex-rpc/discovery"
	"duplex-rpc/loadbalance"
	"duplex-rpc/metrics"
	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

var ErrNoEndpoint = errors.New("client: no daemon address or discovery configured")

// DialFunc opens the raw connection to one daemon instance.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *metrics.Collector
	discovery discovery.Registry
	key       string
	dial      DialFunc
	connOpts  []rpc.Option
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = collector
	}
}

// WithDiscovery resolves the daemon through reg instead of building an etcd registry from the config.
func WithDiscovery(reg discovery.Registry) Option {
	return func(o *options) {
		o.discovery = reg
	}
}

// WithKey sets the affinity key handed to the balancer, usually the username.
func WithKey(key string) Option {
	return func(o *options) {
		o.key = key
	}
}

func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		o.dial = dial
	}
}

func WithConnOptions(opts ...rpc.Option) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, opts...)
	}
}

// Dial connects to a daemon and returns the started connection. methods serves the calls the daemon makes
// back to this client (nil serves none).
//
// Each attempt resolves an instance afresh, so a retry after a failed dial may pick a different daemon.
func Dial(ctx context.Context, cfg config.Config, methods *registry.Registry, opts ...Option) (*rpc.Conn, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dial == nil {
		d := &net.Dialer{Timeout: cfg.Client.DialTimeout}
		o.dial = d.DialContext
	}

	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	resolve, done, err := newResolver(cfg, &o)
	if err != nil {
		return nil, err
	}
	defer done()

	attempts := cfg.Client.DialAttempts
	if attempts == 0 {
		attempts = 1
	}

	var (
		nc   net.Conn
		inst discovery.Instance
	)
	if err := retry.Do(func() error {
		var err error
		inst, err = resolve(ctx)
		if err != nil {
			return err
		}
		network := inst.Network
		if network == "" {
			network = cfg.Network
		}
		nc, err = o.dial(ctx, network, inst.Addr)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.Client.DialDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Info("dial failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	); err != nil {
		return nil, fmt.Errorf("dialing daemon: %w", err)
	}

	if inst.Codec != "" {
		if t, err := codec.ParseCodecType(inst.Codec); err == nil {
			ct = t
		}
	}
	conn := rpc.NewConn(nc, methods, append([]rpc.Option{
		rpc.WithLogger(o.logger),
		rpc.WithMetrics(o.metrics),
		rpc.WithCodec(ct),
		rpc.WithHeartbeat(cfg.Heartbeat),
	}, o.connOpts...)...)
	conn.Start()
	o.logger.Debug("connected", zap.String("addr", inst.Addr), zap.Stringer("codec", ct))
	return conn, nil
}

type resolveFunc func(ctx context.Context) (discovery.Instance, error)

// newResolver picks where each dial attempt goes. The returned func releases anything it opened.
func newResolver(cfg config.Config, o *options) (resolveFunc, func(), error) {
	if cfg.Client.Address != "" {
		inst := discovery.Instance{Addr: cfg.Client.Address, Network: cfg.Network}
		return func(context.Context) (discovery.Instance, error) {
			return inst, nil
		}, func() {}, nil
	}

	reg, done := o.discovery, func() {}
	if reg == nil {
		if len(cfg.Discovery.Endpoints) == 0 {
			return nil, nil, ErrNoEndpoint
		}
		etcd, err := discovery.NewEtcdRegistry(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout, o.logger)
		if err != nil {
			return nil, nil, err
		}
		reg, done = etcd, func() { etcd.Close() }
	}

	balancer, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		done()
		return nil, nil, err
	}
	service := cfg.Discovery.Service
	return func(ctx context.Context) (discovery.Instance, error) {
		instances, err := reg.Discover(ctx, service)
		if err != nil {
			return discovery.Instance{}, err
		}
		inst, err := balancer.Pick(o.key, instances)
		if err != nil {
			return discovery.Instance{}, fmt.Errorf("%s: %w", service, err)
		}
		return inst, nil
	}, done, nil
}
