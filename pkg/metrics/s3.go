package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/souravgh/unfs2go/pkg/backend/s3"
)

type s3Metrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	payload  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewS3Metrics returns the collector handed to the S3 backend, or nil when
// the registry is not initialized.
func NewS3Metrics() s3.Metrics {
	if !IsEnabled() {
		return nil
	}
	f := promauto.With(GetRegistry())

	return &s3Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "s3",
			Name:      "requests_total",
			Help:      "S3 API requests issued by the backend, by API call and outcome.",
		}, []string{"call", "outcome"}),
		// 5ms .. ~20s
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "s3",
			Name:      "request_duration_seconds",
			Help:      "Latency of S3 API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 13),
		}, []string{"call"}),
		payload: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "s3",
			Name:      "payload_bytes_total",
			Help:      "Object bytes moved to or from S3.",
		}, []string{"direction"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "s3",
			Name:      "request_failures_total",
			Help:      "S3 API requests that returned an error.",
		}, []string{"call"}),
	}
}

func (m *s3Metrics) ObserveOperation(call string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(call).Inc()
	}
	m.calls.WithLabelValues(call, outcome).Inc()
	m.latency.WithLabelValues(call).Observe(d.Seconds())
}

func (m *s3Metrics) RecordBytes(direction string, n int64) {
	m.payload.WithLabelValues(direction).Add(float64(n))
}
