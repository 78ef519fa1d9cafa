package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	// HTTP and gRPC metrics
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pt100_requests_total",
		Help: "Total number of API requests by transport, route and status",
	}, []string{"transport", "route", "code"})
	RequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pt100_request_duration_seconds",
		Help:    "Duration of API request processing in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport", "route"})

	// Session metrics
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pt100_cycles_total",
		Help: "Total number of successful acquisition cycles",
	})
	ReadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pt100_read_failures_total",
		Help: "Total number of failed instrument reads",
	})
	PersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pt100_persist_failures_total",
		Help: "Total number of measurement records that failed to persist",
	})
	FaultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pt100_faults_total",
		Help: "Total number of sessions that ended in the faulted state",
	})
	CycleDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pt100_cycle_duration_seconds",
		Help:    "Duration of read, persist and broadcast for one cycle",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	Measuring = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pt100_measuring",
		Help: "1 while a measurement session is running",
	})

	// Hub metrics
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pt100_subscribers",
		Help: "Number of live subscribers",
	})
	SubscriberRemovalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pt100_subscriber_removals_total",
		Help: "Total number of subscribers dropped after a failed send",
	})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDurationSeconds,
			CyclesTotal,
			ReadFailuresTotal,
			PersistFailuresTotal,
			FaultsTotal,
			CycleDurationSeconds,
			Measuring,
			Subscribers,
			SubscriberRemovalsTotal,
		)
	})
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

// HTTPMiddleware instruments HTTP handlers. routeResolver maps a request to a
// low-cardinality route label and runs after the handler.
func HTTPMiddleware(routeResolver func(*http.Request) string) func(http.Handler) http.Handler {
	if routeResolver == nil {
		routeResolver = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			route := routeResolver(r)
			RequestDurationSeconds.WithLabelValues("http", route).Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues("http", route, strconv.Itoa(recorder.status)).Inc()
		})
	}
}

// GRPCUnaryInterceptor instruments unary gRPC handlers.
func GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			RequestDurationSeconds.WithLabelValues("grpc", info.FullMethod).Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues("grpc", info.FullMethod, status.Code(err).String()).Inc()
		}()
		return handler(ctx, req)
	}
}

// ObserveCycle records one successful cycle.
func ObserveCycle(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	CyclesTotal.Inc()
	CycleDurationSeconds.Observe(duration.Seconds())
}

func IncReadFailure() {
	ReadFailuresTotal.Inc()
}

func IncPersistFailure() {
	PersistFailuresTotal.Inc()
}

func IncFault() {
	FaultsTotal.Inc()
}

// SetMeasuring mirrors the session liveness into a gauge.
func SetMeasuring(on bool) {
	if on {
		Measuring.Set(1)
		return
	}
	Measuring.Set(0)
}

func SetSubscribers(n int) {
	Subscribers.Set(float64(n))
}

func IncSubscriberRemovals(n int) {
	SubscriberRemovalsTotal.Add(float64(n))
}

// statusRecorder captures the response status code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
