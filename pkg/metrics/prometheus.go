package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/InterNations/DataGridBundle/pkg/config"
)

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// PrometheusProvider registers its collectors on its own registry so that
// several providers can coexist, e.g. in tests.
type PrometheusProvider struct {
	registry         *prometheus.Registry
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	requestsInFlight prometheus.Gauge
	dbQueryDuration  *prometheus.HistogramVec
	dbQueryTotal     *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	massActions      *prometheus.CounterVec
	panics           *prometheus.CounterVec
}

func NewPrometheusProvider(cfg config.MetricsConfig) *PrometheusProvider {
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	ns := cfg.Namespace

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusProvider{
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   buckets,
		}, []string{"method", "path", "status"}),
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		}),
		dbQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "db_query_duration_seconds",
			Help:      "Grid source query duration in seconds",
			Buckets:   buckets,
		}, []string{"operation", "table"}),
		dbQueryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "db_queries_total",
			Help:      "Total number of grid source queries",
		}, []string{"operation", "table", "status"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"provider"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"provider"}),
		massActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "grid_mass_actions_total",
			Help:      "Mass actions dispatched, by action title and outcome",
		}, []string{"action", "status"}),
		panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "panics_total",
			Help:      "Recovered panics by location",
		}, []string{"location"}),
	}
}

func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

func (p *PrometheusProvider) IncRequestsInFlight() {
	p.requestsInFlight.Inc()
}

func (p *PrometheusProvider) DecRequestsInFlight() {
	p.requestsInFlight.Dec()
}

func (p *PrometheusProvider) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	p.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	p.dbQueryTotal.WithLabelValues(operation, table, outcome(err)).Inc()
}

func (p *PrometheusProvider) RecordCacheHit(provider string) {
	p.cacheHits.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) RecordCacheMiss(provider string) {
	p.cacheMisses.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) RecordMassAction(action, status string) {
	p.massActions.WithLabelValues(action, status).Inc()
}

func (p *PrometheusProvider) RecordPanic(location string) {
	p.panics.WithLabelValues(location).Inc()
}

func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count, latency and in-flight requests. The
// path label is taken from route(r) so that ids do not explode cardinality;
// a nil route uses the raw URL path.
func Middleware(p Provider, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			p.IncRequestsInFlight()
			defer p.DecRequestsInFlight()

			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route != nil {
				if name := route(r); name != "" {
					path = name
				}
			}
			p.RecordHTTPRequest(r.Method, path, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
