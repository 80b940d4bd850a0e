package platform

import (
	"errors"
	"sync"

	"cmdrunner/internal/runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionsInFlight prometheus.Gauge

	metricsOnce sync.Once
)

// InitMetrics registers core metrics collectors. Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdrunner",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed, labeled by method and route.",
		}, []string{"method", "route", "status"})

		HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmdrunner",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})

		ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdrunner",
			Name:      "executions_total",
			Help:      "Child processes run, labeled by kind and outcome.",
		}, []string{"kind", "outcome"})

		ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmdrunner",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of child processes from spawn to exit.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"kind"})

		ExecutionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cmdrunner",
			Name:      "executions_in_flight",
			Help:      "Child processes currently running.",
		})

		prometheus.MustRegister(HTTPRequestsTotal, HTTPDuration, ExecutionsTotal, ExecutionDuration, ExecutionsInFlight)
	})
}

// outcome maps an executor error to a metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, runtime.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, runtime.ErrBufferOverflow):
		return "buffer_overflow"
	case errors.Is(err, runtime.ErrNonZeroExit):
		return "non_zero_exit"
	case errors.Is(err, runtime.ErrSpawnFailure):
		return "spawn_failure"
	default:
		return "error"
	}
}

// observeExecution records the outcome of one executor call.
func observeExecution(kind runtime.Kind, res *runtime.Result, err error) {
	ExecutionsTotal.WithLabelValues(string(kind), outcome(err)).Inc()
	if res != nil {
		ExecutionDuration.WithLabelValues(string(kind)).Observe(res.Duration().Seconds())
	}
}
