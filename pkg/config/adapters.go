package config

import (
	"github.com/souravgh/unfs2go/internal/ratelimiter"
	nfsadapter "github.com/souravgh/unfs2go/pkg/adapter/nfs"
	"github.com/souravgh/unfs2go/pkg/server"
	"github.com/spf13/pflag"
)

// NFSAdapterConfig returns the transport configuration.
func (c *Config) NFSAdapterConfig() nfsadapter.NFSConfig {
	return nfsadapter.NFSConfig{
		BindAddress:     c.Server.BindAddress,
		NFSPort:         c.Server.NFSPort,
		MountPort:       c.Server.MountPort,
		TCPOnly:         c.Server.TCPOnly,
		MaxConnections:  c.Server.MaxConnections,
		IdleTimeout:     c.Server.IdleTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// ServerConfig returns the lifecycle configuration of the server.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		NFS:                 c.NFSAdapterConfig(),
		TickInterval:        c.Server.TickInterval,
		FDIdleTimeout:       c.Server.FDIdleTimeout,
		CookieEpochInterval: c.Server.CookieEpochInterval,
		FHCacheSize:         c.Server.FHCacheSize,
		FDCacheSize:         c.Server.FDCacheSize,
		RegisterPortmap:     c.Server.RegisterPortmap,
		PidFile:             c.Server.PidFile,
	}
}

// NewRateLimiter returns the per-client limiter. It is disabled while
// requests_per_second is zero; a reload may enable it later.
func (c *Config) NewRateLimiter() *ratelimiter.Limiter {
	rl := c.Server.RateLimit
	return ratelimiter.New(rl.RequestsPerSecond, rl.Burst)
}

// Reloader returns the SIGHUP hook: it loads the configuration again from
// the same sources and hands back the reloadable parts.
func Reloader(configPath string, flags *pflag.FlagSet) server.ReloadFunc {
	return func() (*server.Reload, error) {
		cfg, err := Load(configPath, flags)
		if err != nil {
			return nil, err
		}
		return &server.Reload{
			Exports:   cfg.RegistryExports(),
			RateLimit: cfg.Server.RateLimit.RequestsPerSecond,
			RateBurst: cfg.Server.RateLimit.Burst,
		}, nil
	}
}
