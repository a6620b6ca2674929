package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_proxy_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_proxy_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"scope"})

	// Wake word metrics
	wakeWordBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_proxy_wake_word_blocked_total",
		Help: "Total number of requests blocked by the wake word gate",
	})

	// Provider metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_proxy_provider_request_duration_seconds",
		Help:    "Duration of provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_proxy_provider_requests_total",
		Help: "Total number of provider requests",
	}, []string{"provider", "status"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_proxy_cache_hits_total",
		Help: "Total number of reply cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_proxy_cache_misses_total",
		Help: "Total number of reply cache misses",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest records a completed HTTP request
func (m *Metrics) RecordRequest(path string, status int) {
	requestsTotal.WithLabelValues(path, fmt.Sprintf("%d", status)).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(scope string) {
	rateLimitExceeded.WithLabelValues(scope).Inc()
}

// RecordWakeWordBlocked records a wake word rejection
func (m *Metrics) RecordWakeWordBlocked() {
	wakeWordBlocked.Inc()
}

// RecordProviderRequest records a provider request
func (m *Metrics) RecordProviderRequest(provider, status string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordCacheHit records a reply cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a reply cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
