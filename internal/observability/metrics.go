package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Speech queue metrics
	speechQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livetts_speech_queue_depth",
		Help: "Number of phrases waiting to be spoken",
	})

	speechJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetts_speech_jobs_total",
		Help: "Total number of speech jobs processed",
	}, []string{"source", "status"})

	speechLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livetts_speech_duration_seconds",
		Help:    "Time spent synthesizing and playing one phrase",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	})

	speechWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livetts_speech_wait_seconds",
		Help:    "Time a phrase spent queued before speaking started",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// Live connection metrics
	liveConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livetts_live_connection_state",
		Help: "Live room connection state (0=idle, 1=connecting, 2=connected, 3=disconnected)",
	})

	liveConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetts_live_connect_attempts_total",
		Help: "Total live room connect attempts",
	}, []string{"result"})

	liveEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetts_live_events_total",
		Help: "Total live room events received",
	}, []string{"type"})

	// Proxy metrics
	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetts_proxy_requests_total",
		Help: "Total number of proxied requests",
	}, []string{"method", "code"})

	proxyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livetts_proxy_upstream_latency_seconds",
		Help:    "Upstream signing service latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetts_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livetts_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetts_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SetSpeechQueueDepth records how many phrases are pending.
func SetSpeechQueueDepth(n int) {
	speechQueueDepth.Set(float64(n))
}

// RecordSpeechJob records a finished speech job
func RecordSpeechJob(source string, success bool, waited, took time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	speechJobs.WithLabelValues(source, status).Inc()
	speechWait.Observe(waited.Seconds())
	speechLatency.Observe(took.Seconds())
}

// RecordSpeechDropped records a phrase that never reached the engine.
func RecordSpeechDropped(source string) {
	speechJobs.WithLabelValues(source, "dropped").Inc()
}

// SetLiveConnectionState updates the connection state gauge
func SetLiveConnectionState(state int) {
	liveConnectionState.Set(float64(state))
}

// RecordConnectAttempt records one live room connect attempt
func RecordConnectAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	liveConnectAttempts.WithLabelValues(result).Inc()
}

// RecordLiveEvent counts an inbound live room event by type.
func RecordLiveEvent(eventType string) {
	liveEvents.WithLabelValues(eventType).Inc()
}

// RecordProxyRequest records a proxied request and its upstream latency
func RecordProxyRequest(method string, code int, took time.Duration) {
	proxyRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	proxyLatency.Observe(took.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
