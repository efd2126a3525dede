package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credvault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	secretsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credvault_secrets_total",
		Help: "Number of secret paths.",
	})

	activeLeasesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credvault_active_leases_total",
		Help: "Number of active leases.",
	})

	sealStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credvault_seal_status",
		Help: "Seal status: 0=sealed, 1=unsealed.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, secretsTotal, activeLeasesTotal, sealStatus)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

// collectGauges refreshes the storage-derived gauges. Called from a
// background ticker in the server.
func (s *Server) collectGauges(ctx context.Context) {
	if n, err := s.store.CountSecrets(ctx); err == nil {
		secretsTotal.Set(float64(n))
	}
	if n, err := s.store.CountActiveLeases(ctx); err == nil {
		activeLeasesTotal.Set(float64(n))
	}
	if s.seal.IsSealed() {
		sealStatus.Set(0)
	} else {
		sealStatus.Set(1)
	}
}
