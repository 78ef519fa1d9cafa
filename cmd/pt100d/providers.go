package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	grpcapi "pt100-monitor/internal/api/grpc"
	httpapi "pt100-monitor/internal/api/http"
	"pt100-monitor/internal/config"
	"pt100-monitor/internal/hub"
	"pt100-monitor/internal/instrument"
	"pt100-monitor/internal/logging"
	"pt100-monitor/internal/session"
	"pt100-monitor/internal/storage"
)

const closeTimeout = 10 * time.Second

func provideLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	logger := logging.New(cfg.LogLevel, logging.WithWriter(out), logging.WithService(serviceName))
	logger.SetDefault()
	return logger
}

func provideStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:   cfg.DbDriver,
		DSN:      cfg.DbDsn,
		Host:     cfg.DbHost,
		Port:     cfg.DbPort,
		User:     cfg.DbUser,
		Password: cfg.DbPassword,
		Name:     cfg.DbName,
		Channels: cfg.Channels,
	}
}

func provideRepository(ctx context.Context, cfg storage.Config, logger *logging.Logger) (storage.Repository, func(), error) {
	repo, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := repo.Close(); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}
	return repo, cleanup, nil
}

// provideHub closes transports the hub drops so their handlers return.
func provideHub(cfg *config.Config, logger *logging.Logger) *hub.Hub {
	return hub.New(
		hub.WithSendTimeout(cfg.SendTimeout),
		hub.WithLogger(logger),
		hub.OnRemove(func(s hub.Subscriber) {
			if closer, ok := s.(io.Closer); ok {
				_ = closer.Close()
			}
		}),
	)
}

func provideInstrument(cfg *config.Config, logger *logging.Logger) *instrument.Driver {
	return instrument.NewDriver(instrument.Config{
		Addresses:  cfg.InstrumentAddresses,
		Model:      cfg.InstrumentModel,
		ResetDelay: cfg.ResetDelay,
	}, &instrument.Dialer{}, logger.With("component", "instrument"))
}

func provideController(
	cfg *config.Config,
	driver *instrument.Driver,
	repo storage.Repository,
	broadcaster *hub.Hub,
	logger *logging.Logger,
) (*session.Controller, func()) {
	controller := session.NewController(session.Config{
		Channels:        cfg.Channels,
		Interval:        cfg.SamplingInterval,
		ReadTimeout:     cfg.ReadTimeout,
		PersistTimeout:  cfg.PersistTimeout,
		MaxReadFailures: cfg.MaxReadFailures,
		ReleaseOnStop:   cfg.ReleaseOnStop,
		RecordOnStart:   cfg.RecordOnStart,
	}, driver, repo, repo, broadcaster, logger.With("component", "session"))

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := controller.Close(ctx); err != nil {
			logger.Warn("session close failed", "error", err)
		}
	}
	return controller, cleanup
}

func provideHTTPServer(cfg *config.Config, controller *session.Controller, repo storage.Repository, subscribers *hub.Hub, logger *logging.Logger) *http.Server {
	handler := httpapi.NewServer(controller, repo, subscribers, logger.With("component", "http"), httpapi.Options{
		Channels:         cfg.Channels,
		ControlRateLimit: cfg.ControlRateLimit,
		WriteTimeout:     cfg.SendTimeout,
	})

	// Control calls block for up to a read timeout while a run winds down.
	writeTimeout := cfg.ReadTimeout + 15*time.Second
	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func provideGRPCServer(controller *session.Controller, subscribers *hub.Hub, logger *logging.Logger) *grpc.Server {
	return grpcapi.NewServer(controller, subscribers, logger.With("component", "grpc"))
}

func grpcAddress(cfg *config.Config) string {
	return fmt.Sprintf(":%s", cfg.GRPCPort)
}
