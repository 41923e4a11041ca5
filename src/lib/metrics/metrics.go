package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tourbook"

var (
	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saga_outcomes_total",
		Help:      "Terminal saga states by flow.",
	}, []string{"flow", "state", "reason"})

	CapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capacity_rejections_total",
		Help:      "Reservations denied because the slot was full.",
	})

	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capacity_holds_expired_total",
		Help:      "Holds released by the sweeper after the hold window.",
	})

	PaymentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_attempts_total",
		Help:      "Provider calls by outcome.",
	}, []string{"provider", "outcome"})

	IntegrityAlarms = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "integrity_alarms_total",
		Help:      "Broken invariants observed at runtime. Should always be zero.",
	}, []string{"kind"})

	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})

	latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
)

// Middleware records request counts and latency per route template.
func Middleware(ctx *gin.Context) {
	start := time.Now()
	ctx.Next()
	handler := ctx.FullPath()
	if handler == "" {
		handler = "unmatched"
	}
	requests.WithLabelValues(handler, strconv.Itoa(ctx.Writer.Status())).Inc()
	latency.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
