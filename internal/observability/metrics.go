package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbclient",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status endpoint.",
		},
		[]string{"service", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbclient",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route", "status"},
	)
	bridgeTrains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbclient",
			Subsystem: "bridge",
			Name:      "trains_total",
			Help:      "Trains received and decoded.",
		},
		[]string{"endpoint"},
	)
	bridgeBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbclient",
			Subsystem: "bridge",
			Name:      "bytes_total",
			Help:      "Bytes received in decoded trains.",
		},
		[]string{"endpoint"},
	)
	bridgeTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbclient",
			Subsystem: "bridge",
			Name:      "timeouts_total",
			Help:      "Requests that timed out waiting for a reply.",
		},
		[]string{"endpoint"},
	)
	bridgeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbclient",
			Subsystem: "bridge",
			Name:      "errors_total",
			Help:      "Rejected replies and transport failures.",
		},
		[]string{"endpoint", "kind"},
	)
	bridgeAcquisition = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbclient",
			Subsystem: "bridge",
			Name:      "acquisition_seconds",
			Help:      "Time from request to decoded train.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"endpoint"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kbclient",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Trains waiting for the consumer.",
		},
	)
	sinkPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbclient",
			Subsystem: "sink",
			Name:      "published_total",
			Help:      "Train summaries written to the sink.",
		},
		[]string{"stream", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			bridgeTrains, bridgeBytes, bridgeTimeouts, bridgeErrors, bridgeAcquisition,
			queueDepth, sinkPublished,
		)
	})
}

func RecordHTTPRequest(service, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordTrain(endpoint string, bytes int, acquisition time.Duration) {
	RegisterMetrics()
	bridgeTrains.WithLabelValues(endpoint).Inc()
	bridgeBytes.WithLabelValues(endpoint).Add(float64(bytes))
	bridgeAcquisition.WithLabelValues(endpoint).Observe(acquisition.Seconds())
}

func RecordTimeout(endpoint string) {
	RegisterMetrics()
	bridgeTimeouts.WithLabelValues(endpoint).Inc()
}

// RecordBridgeError counts a failed request; kind is "protocol" or "transport".
func RecordBridgeError(endpoint, kind string) {
	RegisterMetrics()
	bridgeErrors.WithLabelValues(endpoint, kind).Inc()
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	queueDepth.Set(float64(n))
}

func RecordSinkPublish(stream string, success bool) {
	RegisterMetrics()
	sinkPublished.WithLabelValues(stream, strconv.FormatBool(success)).Inc()
}
