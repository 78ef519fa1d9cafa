package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"pt100-monitor/internal/config"
	"pt100-monitor/internal/logging"
	"pt100-monitor/internal/session"
)

const shutdownTimeout = 5 * time.Second

type application struct {
	Config     *config.Config
	Logger     *logging.Logger
	Controller *session.Controller
	HTTP       *http.Server
	GRPC       *grpc.Server
}

func newApplication(cfg *config.Config, logger *logging.Logger, controller *session.Controller, httpServer *http.Server, grpcServer *grpc.Server) *application {
	return &application{
		Config:     cfg,
		Logger:     logger,
		Controller: controller,
		HTTP:       httpServer,
		GRPC:       grpcServer,
	}
}

// Run serves HTTP and gRPC until ctx is cancelled or a server fails.
func (a *application) Run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", a.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP port %s: %w", a.Config.HTTPPort, err)
	}
	grpcListener, err := net.Listen("tcp", grpcAddress(a.Config))
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen on gRPC port %s: %w", a.Config.GRPCPort, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("HTTP server listening", "addr", httpListener.Addr().String())
		if err := a.HTTP.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Logger.Info("gRPC server listening", "addr", grpcListener.Addr().String())
		if err := a.GRPC.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})

	err = g.Wait()
	a.Logger.Info("server stopped")
	return err
}

func (a *application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.HTTP.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Warn("HTTP server shutdown error", "error", err)
	}

	// Watch streams only end when their client leaves.
	stopped := make(chan struct{})
	go func() {
		a.GRPC.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		a.GRPC.Stop()
	}
}
