package config

import (
	"github.com/souravgh/unfs2go/pkg/metrics"
	promMetrics "github.com/souravgh/unfs2go/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Enabled reports whether the Prometheus registry was initialized
	Enabled bool

	// NFSMetrics is the metrics collector for the dispatcher and transports
	// (never nil, uses noop if disabled)
	NFSMetrics metrics.NFSMetrics

	port int
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns no-op metrics implementations (zero overhead)
//
// Must be called before CreateBackend so the S3 backend picks up its
// metrics.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			NFSMetrics: metrics.NewNoopNFSMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Enabled:    true,
		NFSMetrics: promMetrics.NewNFSMetrics(),
		port:       cfg.Metrics.Port,
	}
}

// AdminServer registers the cache collector over snapshot and returns the
// admin HTTP server, or nil when metrics are disabled.
func (r *MetricsResult) AdminServer(snapshot metrics.SnapshotFunc) (*metrics.Server, error) {
	if !r.Enabled {
		return nil, nil
	}
	if err := metrics.RegisterCacheCollector(snapshot); err != nil {
		return nil, err
	}
	return metrics.NewServer(metrics.ServerConfig{Port: r.port}, snapshot), nil
}
