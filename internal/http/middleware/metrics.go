// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation. Metrics() measures HTTP
// request counts, latencies, in-flight concurrency and response sizes;
// ObserveIdempotency feeds the idempotency guard's outcomes into counters.
//
// Labels are kept low-cardinality:
//   - method:  HTTP method verb
//   - path:    the registered Gin route, or the raw URL path when none matched
//   - status:  numeric status code as a string ("499" for abandoned requests)
//   - outcome: guard event (executed, replayed, conflict, ...)
//   - op:      store operation that failed (get, reserve, put, release)
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is omitted to keep histogram cardinality lower.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	idemRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_requests_total",
			Help: "Idempotency guard outcomes by kind.",
		},
		[]string{"outcome"},
	)

	idemStoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_store_errors_total",
			Help: "Idempotency store failures by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, idemRequests, idemStoreErrors)
}

// ObserveIdempotency is an idempotency.Observer that records guard events.
func ObserveIdempotency(ev idempotency.Event, op string) {
	if ev == idempotency.EventStoreError {
		idemStoreErrors.WithLabelValues(op).Inc()
		return
	}
	idemRequests.WithLabelValues(string(ev)).Inc()
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		code := c.Writer.Status()
		size := c.Writer.Size() // -1 when unknown
		if IsClientClosed(c) {
			code, size = StatusClientClosedRequest, -1
		}

		httpReqs.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
		httpLat.WithLabelValues(method, path).Observe(dur)
		if size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
