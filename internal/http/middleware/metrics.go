// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels are
// kept bounded: the path label is the registered route (c.FullPath()), not
// the raw URL, so table and chat ids never become label values. Unmatched
// requests fall back to the raw path.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var sizeBuckets = []float64{
	200, 500, 1 << 10, 5 << 10, 25 << 10, 100 << 10,
	250 << 10, 500 << 10, 1 << 20, 2 << 20, 5 << 20, 10 << 20,
}

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests."},
		[]string{"method", "path", "status"},
	)

	// No status label, to keep histogram series down.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_requests_inflight", Help: "Current number of in-flight HTTP requests."},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_response_size_bytes", Help: "Size of HTTP responses in bytes.", Buckets: sizeBuckets},
		[]string{"method", "path"},
	)

	// Receipt uploads dominate request sizes; this is what MAX_UPLOAD_BYTES is tuned against.
	httpReqSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_size_bytes", Help: "Declared size of HTTP request bodies in bytes.", Buckets: sizeBuckets},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpReqSize)
}

// Metrics records request count, latency, in-flight gauge and body sizes.
// Sizes that are unknown (-1) are not observed.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(n))
		}
		if n := c.Request.ContentLength; n > 0 {
			httpReqSize.WithLabelValues(method, path).Observe(float64(n))
		}
	}
}
