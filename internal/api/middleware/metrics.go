package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// MetricsCollector counts requests for /stats and feeds the Prometheus
// request collectors.
type MetricsCollector struct {
	requestCount *atomic.Int64
	errorCount   *atomic.Int64
	prom         *metrics.Metrics
}

// NewMetricsCollector creates a new metrics collector. prom may be nil.
func NewMetricsCollector(requestCount, errorCount *atomic.Int64, prom *metrics.Metrics) *MetricsCollector {
	return &MetricsCollector{
		requestCount: requestCount,
		errorCount:   errorCount,
		prom:         prom,
	}
}

// Middleware counts requests and 4xx/5xx responses. The Prometheus series
// use the chi route pattern, which is only known once routing has run.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mc.requestCount.Add(1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			mc.errorCount.Add(1)
		}
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		mc.prom.ObserveRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
