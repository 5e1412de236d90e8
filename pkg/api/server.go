package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/httputil"
	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

const (
	DefaultMaxBodyBytes = 4 << 20
	DefaultRetryAfter   = time.Second
)

// Registry is the coordinator surface the HTTP API exposes.
// *lifecycle.Coordinator implements it.
type Registry interface {
	Register(ctx context.Context, in schema.SchemaInput) (*lifecycle.RegisteredSchema, error)
	Resubmit(ctx context.Context, ref schema.Ref, raw []byte) (*lifecycle.RegisteredSchema, error)
	Activate(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error)
	Deprecate(ctx context.Context, ref schema.Ref, req lifecycle.DeprecateRequest) (*schema.Lifecycle, error)
	Reactivate(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error)
	Archive(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error)
	Sunset(ctx context.Context, ref schema.Ref) (*lifecycle.SunsetResult, error)
	Abandon(ctx context.Context, ref schema.Ref, reason string) (*schema.Lifecycle, error)
	UpdateMetadata(ctx context.Context, ref schema.Ref, metadata map[string]string) (*schema.Lifecycle, error)
	Lifecycle(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error)
	Get(ctx context.Context, ref schema.Ref) (*lifecycle.RegisteredSchema, error)
	Versions(ctx context.Context, subject schema.Subject) ([]lifecycle.VersionInfo, error)
	ValidateStructure(ctx context.Context, raw []byte, format schema.Format) (*validation.Report, error)
	CheckCompatibility(ctx context.Context, raw []byte, format schema.Format, subject schema.Subject, mode compatibility.Mode) (*compatibility.Result, error)
	PlanRollback(ctx context.Context, req lifecycle.RollbackRequest) (*lifecycle.RollbackPlan, error)
	Rollback(ctx context.Context, req lifecycle.RollbackRequest) (*lifecycle.RollbackPlan, error)
	DefaultMode() compatibility.Mode
}

// Server represents our API server
type Server struct {
	registry     Registry
	router       *mux.Router
	handler      http.Handler
	logger       *observability.Logger
	metrics      *observability.Metrics
	retryAfter   time.Duration
	maxBodyBytes int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger used for request logs and unexpected errors
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics enables HTTP request metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithRetryAfter sets the Retry-After hint sent when a version is busy
func WithRetryAfter(d time.Duration) Option {
	return func(s *Server) {
		s.retryAfter = d
	}
}

// WithMaxBodyBytes limits request bodies
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// NewServer creates a new API server
func NewServer(registry Registry, opts ...Option) *Server {
	s := &Server{
		registry:     registry,
		router:       mux.NewRouter(),
		logger:       observability.NewNopLogger(),
		retryAfter:   DefaultRetryAfter,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware,
		httputil.ActorMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(s.maxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "lineage.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					return r.Method + " " + tmpl
				}
			}
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Registration
	v1.HandleFunc("/schemas", s.registerSchema).Methods(http.MethodPost)
	v1.HandleFunc("/validate", s.validateSchema).Methods(http.MethodPost)
	v1.HandleFunc("/compatibility", s.checkCompatibility).Methods(http.MethodPost)

	// Subject routes
	subject := v1.PathPrefix("/schemas/{namespace}/{name}").Subrouter()
	subject.HandleFunc("/versions", s.listVersions).Methods(http.MethodGet)
	subject.HandleFunc("/rollback", s.rollback).Methods(http.MethodPost)

	// Version routes
	version := subject.PathPrefix("/versions/{version}").Subrouter()
	version.HandleFunc("", s.getVersion).Methods(http.MethodGet)
	version.HandleFunc("/lifecycle", s.getLifecycle).Methods(http.MethodGet)
	version.HandleFunc("/metadata", s.updateMetadata).Methods(http.MethodPut)
	version.HandleFunc("/activate", s.transition(Registry.Activate)).Methods(http.MethodPost)
	version.HandleFunc("/reactivate", s.transition(Registry.Reactivate)).Methods(http.MethodPost)
	version.HandleFunc("/archive", s.transition(Registry.Archive)).Methods(http.MethodPost)
	version.HandleFunc("/deprecate", s.deprecate).Methods(http.MethodPost)
	version.HandleFunc("/sunset", s.sunset).Methods(http.MethodPost)
	version.HandleFunc("/abandon", s.abandon).Methods(http.MethodPost)
	version.HandleFunc("/resubmit", s.resubmit).Methods(http.MethodPost)
}

// Router exposes the route table so callers can mount health and metrics
// endpoints next to the API.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
