package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"pt100-monitor/internal/config"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP and gRPC servers and the measurement session",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "configure",
				Usage: "connect to and configure the instrument before serving",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, cleanup, err := initApplication(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			defer cleanup()

			config.LogConfig(app.Logger, cfg)

			if cmd.Bool("configure") {
				if err := app.Controller.Configure(ctx); err != nil {
					// the operator can retry through the API
					app.Logger.Warn("initial configure failed", "error", err)
				}
			}

			return app.Run(ctx)
		},
	}
}
