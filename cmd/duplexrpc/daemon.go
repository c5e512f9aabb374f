package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"duplex-rpc/codec"
	"duplex-rpc/config"
	"duplex-rpc/daemon"
	"duplex-rpc/discovery"
	"duplex-rpc/metrics"
	"duplex-rpc/middleware"
	"duplex-rpc/registry"
	"duplex-rpc/rpc"
	"duplex-rpc/server"
)

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "serve the keybase protocols",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on (overrides config)",
			},
			&cli.StringFlag{
				Name:  "metrics",
				Usage: "address serving /metrics, empty to disable (overrides config)",
			},
		},
		Action: cmdDaemon,
	}
}

func cmdDaemon(ctx *cli.Context) error {
	logger := appLogger(ctx)
	cfg := appConfig(ctx)
	if ctx.IsSet("listen") {
		cfg.Listen = ctx.String("listen")
	}
	if ctx.IsSet("metrics") {
		cfg.Server.Metrics = ctx.String("metrics")
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := daemon.New(cfg.Daemon, logger.Named("daemon"))
	if err != nil {
		return err
	}
	methods := registry.New()
	svc.Register(methods)
	ctl, err := daemon.CtlProtocol(&daemon.Ctl{Logger: logger.Named("ctl"), OnStop: stop})
	if err != nil {
		return err
	}
	methods.RegisterProtocol(ctl)

	collector := metrics.NewCollector()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, closeDiscovery, err := newServer(cfg, methods, collector, logger)
	if err != nil {
		return err
	}
	defer closeDiscovery()

	if cfg.Server.Metrics != "" {
		metricsSrv := &http.Server{
			Addr:    cfg.Server.Metrics,
			Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.Server.Metrics))
	}

	if cfg.Network == "unix" {
		os.Remove(cfg.Listen)
	}
	l, err := net.Listen(cfg.Network, cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(l)
	}()

	select {
	case err := <-served:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.Server.ShutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-served
	return err
}

// newServer builds the daemon's server from cfg. The returned func closes the discovery client, if any.
func newServer(cfg config.Config, methods *registry.Registry, collector *metrics.Collector, logger *zap.Logger) (*server.Server, func(), error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	opts := []server.Option{
		server.WithLogger(logger.Named("server")),
		server.WithMetrics(collector),
		server.WithConnOptions(rpc.WithCodec(ct), rpc.WithHeartbeat(cfg.Heartbeat)),
	}

	closeDiscovery := func() {}
	if len(cfg.Discovery.Endpoints) > 0 {
		etcd, err := discovery.NewEtcdRegistry(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout, logger.Named("discovery"))
		if err != nil {
			return nil, nil, err
		}
		closeDiscovery = func() { etcd.Close() }
		opts = append(opts, server.WithDiscovery(etcd, cfg.Discovery.Service, discovery.Instance{
			Addr:    cfg.AdvertiseAddr(),
			Network: cfg.Network,
			Version: Build,
			Codec:   cfg.Codec,
		}, cfg.Discovery.TTL))
	}

	srv := server.New(methods, opts...)
	srv.Use(middleware.Logging(logger.Named("calls")))
	srv.Use(middleware.Metrics(collector))
	if cfg.Server.HandlerTimeout > 0 {
		srv.Use(middleware.Timeout(cfg.Server.HandlerTimeout))
	}
	// Innermost, so it runs on the goroutine Timeout spawns for the handler.
	srv.Use(middleware.Recover(logger))
	if cfg.Server.RateLimit > 0 {
		srv.UsePerConn(func() middleware.Middleware {
			return middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
		})
	}
	return srv, closeDiscovery, nil
}
