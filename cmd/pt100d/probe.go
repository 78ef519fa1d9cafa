package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/instrument"
	"pt100-monitor/internal/logging"
)

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "find the instrument, configure the channels and take one reading",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "address",
				Usage: "instrument address to try instead of INSTRUMENT_ADDRESSES (tcp://, serial://, sim://)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addresses := cmd.StringSlice("address"); len(addresses) > 0 {
				cfg.InstrumentAddresses = addresses
			}

			logger := logging.New(cfg.LogLevel, logging.WithWriter(os.Stderr), logging.WithService("probe"))
			driver := provideInstrument(cfg, logger)
			return probe(ctx, driver, cfg.Channels, cfg.ReadTimeout, os.Stdout)
		},
	}
}

func probe(ctx context.Context, driver *instrument.Driver, channels []string, readTimeout time.Duration, out io.Writer) error {
	if err := driver.Connect(ctx); err != nil {
		return err
	}
	defer driver.Disconnect()

	if err := driver.Configure(ctx, channels); err != nil {
		return err
	}

	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	sample, err := driver.Read(readCtx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "instrument: %s\n", driver.Identity())
	writeSample(out, sample)
	return nil
}

func writeSample(out io.Writer, sample domain.Sample) {
	for _, ch := range sample.Channels() {
		value := sample[ch]
		if value >= domain.OverloadReading {
			fmt.Fprintf(out, "  %s: overload\n", ch)
			continue
		}
		fmt.Fprintf(out, "  %s: %.3f\n", ch, value)
	}
}
