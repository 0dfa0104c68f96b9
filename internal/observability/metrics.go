package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	authOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "operations_total",
		Help:      "Session operations by outcome (success, rejected, error).",
	}, []string{"operation", "outcome"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func RecordAuthOperation(operation, outcome string) {
	authOperations.WithLabelValues(operation, outcome).Inc()
}

func observeRequest(method string, status int, seconds float64) {
	httpRequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(seconds)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
