// Package metrics exposes Prometheus collectors for the lead engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal              *prometheus.CounterVec
	queueDepth             *prometheus.GaugeVec
	queueActive            *prometheus.GaugeVec
	providerCallsTotal     *prometheus.CounterVec
	providerCallSeconds    *prometheus.HistogramVec
	keyRotationsTotal      prometheus.Counter
	rateLimitRetriesTotal  prometheus.Counter
	batchDelaySeconds      prometheus.Histogram
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadengine_queue_depth",
				Help: "Number of pending items per queue.",
			},
			[]string{"queue"},
		)

		queueActive = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadengine_queue_active",
				Help: "Whether a queue currently has an item in flight (0 or 1).",
			},
			[]string{"queue"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_provider_calls_total",
				Help: "Total calls to external providers, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadengine_provider_call_seconds",
				Help:    "Histogram of external provider call latencies, labeled by provider.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)

		keyRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_key_rotations_total",
				Help: "Total API keys handed out by the rotation pool.",
			},
		)

		rateLimitRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_rate_limit_retries_total",
				Help: "Total retries triggered by provider rate-limit responses.",
			},
		)

		batchDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadengine_batch_delay_seconds",
				Help:    "Histogram of inter-batch pacing delays during verification.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal-state job counter.
func ObserveJob(kind, status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// SetQueueDepth records the pending depth for a queue.
func SetQueueDepth(queue string, depth int) {
	if queueDepth == nil {
		return
	}
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetQueueActive flips the in-flight gauge for a queue.
func SetQueueActive(queue string, active bool) {
	if queueActive == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	queueActive.WithLabelValues(queue).Set(v)
}

// ObserveProviderCall records one external provider call.
func ObserveProviderCall(provider, outcome string, duration time.Duration) {
	if providerCallsTotal == nil {
		return
	}
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	providerCallSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveKeyRotation increments the rotation counter.
func ObserveKeyRotation() {
	if keyRotationsTotal == nil {
		return
	}
	keyRotationsTotal.Inc()
}

// ObserveRateLimitRetry increments the 429-retry counter.
func ObserveRateLimitRetry() {
	if rateLimitRetriesTotal == nil {
		return
	}
	rateLimitRetriesTotal.Inc()
}

// ObserveBatchDelay records an inter-batch pacing delay.
func ObserveBatchDelay(d time.Duration) {
	if batchDelaySeconds == nil {
		return
	}
	batchDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, httpCode(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
