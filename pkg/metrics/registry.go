// Package metrics provides Prometheus metrics collection for unfsd.
//
// All metrics are optional. If InitRegistry is never called, constructors
// return no-op implementations and the admin server answers /metrics with
// 503.
//
// Usage:
//
//	metrics.InitRegistry()
//	nfsMetrics := prometheus.NewNFSMetrics()
//	s3Metrics := metrics.NewS3Metrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name.
const Namespace = "unfsd"

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry together with
// the Go runtime and process collectors.
//
// Safe to call multiple times; subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
