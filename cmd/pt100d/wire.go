//go:build wireinject

package main

import (
	"context"
	"io"

	"github.com/google/wire"

	"pt100-monitor/internal/config"
)

func initApplication(ctx context.Context, cfg *config.Config, out io.Writer) (*application, func(), error) {
	wire.Build(
		provideLogger,
		provideStorageConfig,
		provideRepository,
		provideHub,
		provideInstrument,
		provideController,
		provideHTTPServer,
		provideGRPCServer,
		newApplication,
	)
	return nil, nil, nil
}
