package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"duplex-rpc/config"
)

var Build = "head"

var App = cli.App{
	Name:            "duplexrpc",
	Usage:           fmt.Sprintf("build for %s on %s", runtime.GOARCH, runtime.GOOS),
	Version:         Build,
	HideHelpCommand: true,
	Description:     "keybase-style daemon and client speaking duplex-rpc",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the YAML config file",
			EnvVars: []string{"DUPLEXRPC_CONFIG"},
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Value: false,
			Usage: "enable verbose logging",
		},
	},
	Commands: []*cli.Command{
		daemonCommand(),
		statusCommand(),
		loginCommand(),
		logoutCommand(),
		devicesCommand(),
		stopCommand(),
	},
	Before: configApp,
	After: func(ctx *cli.Context) error {
		if logger, ok := ctx.App.Metadata["logger"].(*zap.Logger); ok {
			logger.Sync()
		}
		return nil
	},
}

// configApp loads the config and builds the logger every command reads from App.Metadata.
func configApp(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}

	var zc zap.Config
	if ctx.Bool("verbose") || cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	// Redirect everything to stderr; stdout belongs to command output.
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return err
	}

	ctx.App.Metadata["logger"] = logger
	ctx.App.Metadata["config"] = cfg
	return nil
}

func appLogger(ctx *cli.Context) *zap.Logger {
	return ctx.App.Metadata["logger"].(*zap.Logger)
}

func appConfig(ctx *cli.Context) config.Config {
	return ctx.App.Metadata["config"].(config.Config)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := App.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
