// Package prometheus implements metrics.NFSMetrics on the global registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/souravgh/unfs2go/pkg/metrics"
)

type nfsMetrics struct {
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	payload     *prometheus.CounterVec
	throttled   prometheus.Counter
	connsOpen   prometheus.Gauge
	connEvents  *prometheus.CounterVec
}

// NewNFSMetrics registers the RPC and connection series. Before
// metrics.InitRegistry it returns the no-op recorder.
func NewNFSMetrics() metrics.NFSMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopNFSMetrics()
	}
	f := promauto.With(metrics.GetRegistry())
	ns := metrics.Namespace

	return &nfsMetrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls answered, by program, procedure and reply status.",
		}, []string{"program", "procedure", "status"}),
		// 50µs .. ~1.6s
		callLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time from decoding a call to having its reply encoded.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 16),
		}, []string{"program", "procedure"}),
		payload: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "nfs",
			Name:      "payload_bytes_total",
			Help:      "File data returned by READ or accepted by WRITE.",
		}, []string{"direction"}),
		throttled: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "rpc",
			Name:      "throttled_calls_total",
			Help:      "Calls dropped by the per-client rate limiter.",
		}),
		connsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "tcp",
			Name:      "connections",
			Help:      "TCP connections currently open.",
		}),
		connEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "tcp",
			Name:      "connection_events_total",
			Help:      "TCP connections accepted and closed.",
		}, []string{"event"}),
	}
}

func (m *nfsMetrics) RecordRequest(program, procedure, status string, d time.Duration) {
	m.calls.WithLabelValues(program, procedure, status).Inc()
	m.callLatency.WithLabelValues(program, procedure).Observe(d.Seconds())
}

func (m *nfsMetrics) RecordBytesTransferred(direction string, n int64) {
	m.payload.WithLabelValues(direction).Add(float64(n))
}

func (m *nfsMetrics) RecordRateLimited()           { m.throttled.Inc() }
func (m *nfsMetrics) SetActiveConnections(n int32) { m.connsOpen.Set(float64(n)) }
func (m *nfsMetrics) RecordConnectionAccepted()    { m.connEvents.WithLabelValues("accepted").Inc() }
func (m *nfsMetrics) RecordConnectionClosed()      { m.connEvents.WithLabelValues("closed").Inc() }
