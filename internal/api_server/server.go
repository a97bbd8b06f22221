package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oceanomics/seqtrack/internal/registry"
	"github.com/oceanomics/seqtrack/internal/service"
	"github.com/oceanomics/seqtrack/pkg/log"
	"github.com/oceanomics/seqtrack/pkg/metrics"
	"github.com/oceanomics/seqtrack/pkg/ratelimit"
	"github.com/oceanomics/seqtrack/pkg/requestid"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// StatusServer exposes the jobs of the registry. Finished jobs can be
// deleted, everything else is read-only.
type StatusServer struct {
	registry *registry.Registry
	health   *service.HealthChecker
	listener net.Listener
	opts     []RouterOption
}

type routerOptions struct {
	rateLimit *ratelimit.Config
}

type RouterOption func(*routerOptions)

// WithRateLimit limits the requests of every client address.
func WithRateLimit(cfg ratelimit.Config) RouterOption {
	return func(o *routerOptions) {
		o.rateLimit = &cfg
	}
}

// New returns a status server. health may be nil when the backend is not
// checked.
func New(reg *registry.Registry, health *service.HealthChecker, listener net.Listener, opts ...RouterOption) *StatusServer {
	return &StatusServer{
		registry: reg,
		health:   health,
		listener: listener,
		opts:     opts,
	}
}

// NewRouter builds the status API routes over reg.
func NewRouter(reg *registry.Registry, health *service.HealthChecker, opts ...RouterOption) (http.Handler, error) {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("status_server")
	if err := metricMiddleware.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	router.Use(
		chiMiddleware.RequestID,
		requestid.Middleware,
		metricMiddleware.Handler,
		log.Logger(zap.L(), "status_server"),
		chiMiddleware.Recoverer,
	)
	if o.rateLimit != nil {
		router.Use(ratelimit.New(*o.rateLimit).Handler)
	}

	h := &jobHandler{registry: reg, checker: health}
	router.Get("/health", h.health)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.delete)
		r.Get("/{id}/events", h.events)
	})

	return router, nil
}

func (s *StatusServer) Run(ctx context.Context) error {
	zap.S().Named("status_server").Info("Initializing status API server")

	router, err := NewRouter(s.registry, s.health, s.opts...)
	if err != nil {
		return err
	}
	srv := http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		zap.S().Named("status_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
	}()

	zap.S().Named("status_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
