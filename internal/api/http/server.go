package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/hub"
	"pt100-monitor/internal/metrics"
)

const DefaultPrefix = "/pt100"

// Logger defines the logging behaviour required by the HTTP transport.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// RecordStore is the persistence surface used by the record endpoints.
type RecordStore interface {
	domain.RecordReader
	domain.RecordWriter
}

// Subscribers is the fan-out hub seen from the websocket endpoint.
type Subscribers interface {
	Register(s hub.Subscriber)
	Remove(s hub.Subscriber)
}

// Options tunes the transport.
type Options struct {
	// Prefix is prepended to the API and websocket routes. Defaults to /pt100.
	Prefix string
	// Channels orders the spreadsheet columns.
	Channels []string
	// ControlRateLimit is control requests per second; 0 disables limiting.
	ControlRateLimit float64
	// WriteTimeout bounds a websocket write when the caller has no deadline.
	WriteTimeout time.Duration
	// PongWait is how long a websocket client may stay silent. Pings go out at
	// nine tenths of it.
	PongWait time.Duration
}

// Server exposes the measurement service over HTTP and websocket.
type Server struct {
	handler http.Handler
}

func NewServer(service domain.MeasurementService, records RecordStore, subscribers Subscribers, logger Logger, opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	opts.Prefix = "/" + strings.Trim(opts.Prefix, "/")
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}

	h := &handler{
		service:     service,
		records:     records,
		subscribers: subscribers,
		logger:      logger,
		channels:    append([]string(nil), opts.Channels...),
		now:         time.Now,
		writeWait:   opts.WriteTimeout,
		pongWait:    opts.PongWait,
	}

	router := chi.NewRouter()
	router.Use(requestID)
	router.Use(metrics.HTTPMiddleware(func(r *http.Request) string {
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				return pattern
			}
		}
		return "unmatched"
	}))
	registerRoutes(router, h, opts)

	return &Server{handler: router}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	return s.handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
