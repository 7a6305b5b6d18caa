package config

import (
	"strings"
	"time"

	"github.com/souravgh/unfs2go/pkg/fdcache"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/souravgh/unfs2go/pkg/server"
)

// Default ports of the two services.
const (
	DefaultNFSPort     = 2049
	DefaultMountPort   = 1058
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBackendDefaults(&cfg.Backend)
	applyExportDefaults(cfg.Exports)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets transport and loop defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.NFSPort == 0 {
		cfg.NFSPort = DefaultNFSPort
	}
	if cfg.MountPort == 0 {
		cfg.MountPort = DefaultMountPort
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = server.DefaultTickInterval
	}
	if cfg.FDIdleTimeout == 0 {
		cfg.FDIdleTimeout = server.DefaultFDIdleTimeout
	}
	if cfg.FHCacheSize == 0 {
		cfg.FHCacheSize = fhcache.DefaultCapacity
	}
	if cfg.FDCacheSize == 0 {
		cfg.FDCacheSize = fdcache.DefaultMaxSize
	}
	if cfg.CookieEpochInterval == 0 {
		cfg.CookieEpochInterval = server.DefaultCookieEpochInterval
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	// MaxConnections defaults to 0 (unlimited)
	// RateLimit defaults to 0 (unlimited)
}

// applyBackendDefaults sets backend defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}

	if cfg.Local == nil {
		cfg.Local = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Local["generations"]; !ok {
		cfg.Local["generations"] = true
	}
	if _, ok := cfg.Memory["capacity_bytes"]; !ok {
		cfg.Memory["capacity_bytes"] = uint64(1 << 30) // 1GB
	}
}

// applyExportDefaults sets export defaults.
func applyExportDefaults(exports []ExportConfig) {
	for i := range exports {
		exp := &exports[i]

		// A nil list admits loopback only; keep it explicit in dumps.
		if exp.AllowedClients == nil {
			exp.AllowedClients = []string{}
		}

		// Anonymous user defaults (nobody/nogroup)
		if exp.IdentityMapping.AnonymousUID == 0 {
			exp.IdentityMapping.AnonymousUID = registry.DefaultAnonymousUID
		}
		if exp.IdentityMapping.AnonymousGID == 0 {
			exp.IdentityMapping.AnonymousGID = registry.DefaultAnonymousGID
		}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Backend: BackendConfig{
			Memory: map[string]any{
				"dirs": []string{"/export"},
			},
		},
		Exports: []ExportConfig{
			{
				Path: "/export",
				IdentityMapping: registry.IdentityMapping{
					MapPrivilegedToAnonymous: true,
				},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
