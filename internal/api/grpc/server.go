package grpcapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/hub"
	"pt100-monitor/internal/metrics"
)

// Logger defines the logging behaviour required by the gRPC transport.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Subscribers is the push registry Watch streams join.
type Subscribers interface {
	Register(hub.Subscriber)
	Remove(hub.Subscriber)
}

// NewServer constructs a gRPC server exposing pt100.Control.
func NewServer(service domain.MeasurementService, subscribers Subscribers, logger Logger) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		loggingInterceptor(logger),
		metrics.GRPCUnaryInterceptor(),
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.ChainStreamInterceptor(streamLoggingInterceptor(logger)),
	)
	RegisterControlServer(server, &controlServer{service: service, subscribers: subscribers, logger: logger})
	return server
}

type controlServer struct {
	service     domain.MeasurementService
	subscribers Subscribers
	logger      Logger
}

func (s *controlServer) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	run, err := s.service.Start(ctx)
	switch {
	case err == nil:
		return structpb.NewStruct(map[string]any{"status": "started", "run_number": run})
	case errors.Is(err, domain.ErrAlreadyRunning):
		return structpb.NewStruct(map[string]any{"status": "already_running"})
	default:
		return nil, translateServiceError(err)
	}
}

func (s *controlServer) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	err := s.service.Stop(ctx)
	switch {
	case err == nil:
		return structpb.NewStruct(map[string]any{"status": "stopped"})
	case errors.Is(err, domain.ErrNotRunning):
		return structpb.NewStruct(map[string]any{"status": "not_running"})
	default:
		return nil, translateServiceError(err)
	}
}

func (s *controlServer) Configure(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	err := s.service.Configure(ctx)
	switch {
	case err == nil:
		return structpb.NewStruct(map[string]any{"status": "configured"})
	case errors.Is(err, domain.ErrAlreadyConfigured):
		return structpb.NewStruct(map[string]any{"status": "already_configured"})
	default:
		return nil, translateServiceError(err)
	}
}

func (s *controlServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	st := s.service.Status()
	fields := map[string]any{
		"measuring":  st.Measuring,
		"recording":  st.Recording,
		"connected":  st.Connected,
		"configured": st.Configured,
		"phase":      st.Phase,
		"run_number": st.RunNumber,
		"interval":   st.Interval.Seconds(),
	}
	if st.LastError != "" {
		fields["last_error"] = st.LastError
	}
	return structpb.NewStruct(fields)
}

func (s *controlServer) Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	fields := make(map[string]any)
	for ch, value := range s.service.Latest() {
		fields[ch] = value
	}
	return structpb.NewStruct(fields)
}

// Watch streams the same status and data messages websocket clients get,
// starting with the current status.
func (s *controlServer) Watch(_ *emptypb.Empty, stream Control_WatchServer) error {
	sub := newStreamSubscriber(stream)

	st := s.service.Status()
	msg, err := hub.StatusMessage(st.Measuring, st.Recording)
	if err != nil {
		return status.Error(codes.Internal, "encode status")
	}
	if err := sub.Send(stream.Context(), msg); err != nil {
		return err
	}

	s.subscribers.Register(sub)
	defer s.subscribers.Remove(sub)

	select {
	case <-stream.Context().Done():
		return nil
	case <-sub.gone:
		return status.Error(codes.Unavailable, "subscriber dropped")
	}
}

// streamSubscriber adapts a Watch stream to the hub. SendMsg is not safe for
// concurrent use, so sends are serialized.
type streamSubscriber struct {
	id     string
	stream Control_WatchServer

	mu       sync.Mutex
	gone     chan struct{}
	goneOnce sync.Once
}

func newStreamSubscriber(stream Control_WatchServer) *streamSubscriber {
	return &streamSubscriber{id: uuid.NewString(), stream: stream, gone: make(chan struct{})}
}

func (s *streamSubscriber) ID() string {
	return s.id
}

func (s *streamSubscriber) Send(ctx context.Context, msg []byte) error {
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(msg); err != nil {
		return err
	}

	// SendMsg blocks on flow control and takes no context.
	done := make(chan error, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		done <- s.stream.Send(out)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.gone:
		return errors.New("subscriber closed")
	}
}

// Close ends the Watch call; the hub calls it on removal.
func (s *streamSubscriber) Close() error {
	s.goneOnce.Do(func() { close(s.gone) })
	return nil
}

func translateServiceError(err error) error {
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrNotRunning), errors.Is(err, domain.ErrFaulted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

func loggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)
		if logger != nil {
			if err != nil {
				logger.Warn("grpc: call failed", "method", info.FullMethod, "duration", duration, "error", err)
			} else {
				logger.Info("grpc: call completed", "method", info.FullMethod, "duration", duration)
			}
		}
		return resp, err
	}
}

func streamLoggingInterceptor(logger Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		if logger != nil {
			logger.Info("grpc: stream closed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		}
		return err
	}
}
