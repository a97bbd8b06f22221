package metrics

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// EnvLatencyBuckets holds comma separated millisecond buckets, e.g. "5,20,100,500".
	EnvLatencyBuckets     = "SEQTRACK_HTTP_LATENCY_BUCKETS"
	RequestsCollectorName = "http_requests_total"
	LatencyCollectorName  = "http_request_duration_milliseconds"
)

var defaultBuckets = []float64{5, 20, 100, 500}

// Middleware counts status API requests and observes their latency,
// partitioned by status code, method and route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func buckets() []float64 {
	conf, ok := os.LookupEnv(EnvLatencyBuckets)
	if !ok {
		return defaultBuckets
	}
	var out []float64
	for _, v := range strings.Split(conf, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return defaultBuckets
		}
		out = append(out, f)
	}
	return out
}

func NewMiddleware(service string) *Middleware {
	labels := prometheus.Labels{"service": service}
	return &Middleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem:   seqtrack,
			Name:        RequestsCollectorName,
			Help:        "Number of HTTP requests partitioned by status code, method and route.",
			ConstLabels: labels,
		}, []string{"code", "method", "path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem:   seqtrack,
			Name:        LatencyCollectorName,
			Help:        "Time spent on the request partitioned by status code, method and route.",
			ConstLabels: labels,
			Buckets:     buckets(),
		}, []string{"code", "method", "path"}),
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rp := rctx.RoutePattern()
			code := strconv.Itoa(ww.Status())
			m.requests.WithLabelValues(code, r.Method, rp).Inc()
			m.latency.WithLabelValues(code, r.Method, rp).Observe(float64(time.Since(start).Milliseconds()))
		}
	}
	return http.HandlerFunc(fn)
}

// Register adds the collectors to reg. Registering the same middleware twice
// is not an error.
func (m *Middleware) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.latency} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
