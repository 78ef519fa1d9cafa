package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"pt100-monitor/internal/config"
	"pt100-monitor/internal/pkg/dotenv"
	_ "pt100-monitor/internal/pkg/dotenv/autoload"
)

const (
	name        = "pt100d"
	serviceName = "pt100-monitor"
)

// overridden during build with ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "poll a 34970A with PT100 probes, record and stream the readings",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "extra KEY=VALUE files loaded before the configuration is read",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error), overrides " + config.EnvLogLevel,
			},
		},
		Before: applyGlobalFlags,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			probeCommand(),
			ctlCommand(),
		},
	}
}

// applyGlobalFlags pushes the global flags into the environment so that
// config.Load sees them like any other variable.
func applyGlobalFlags(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if files := cmd.StringSlice("env-file"); len(files) > 0 {
		if err := dotenv.Load(files...); err != nil {
			return ctx, err
		}
	}
	if cmd.IsSet("log-level") {
		if err := os.Setenv(config.EnvLogLevel, cmd.String("log-level")); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// loadConfig reads the configuration once the global flags are applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
