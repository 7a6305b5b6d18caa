package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/pkg/config"
	"github.com/souravgh/unfs2go/pkg/server"
	"github.com/spf13/pflag"
)

const usage = `unfsd - user-space NFSv3 server

Usage:
  unfsd [flags]          Start the server
  unfsd init [--force]   Write a sample configuration file

Flags:
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		os.Exit(runInit(os.Args[2:]))
	}
	os.Exit(runServer(os.Args[1:]))
}

func runInit(args []string) int {
	flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
	force := flags.Bool("force", false, "Overwrite an existing configuration file")
	path := flags.StringP("config", "c", "", "Write to this path instead of the default location")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	var err error
	target := *path
	if target == "" {
		target, err = config.InitConfig(*force)
	} else {
		err = config.InitConfigAt(target, *force)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration written to %s\n", target)
	return 0
}

func newFlagSet() (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet("unfsd", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	configPath := flags.StringP("config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/unfsd/config.yaml)")

	flags.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("log-output", "stdout", "Log output (stdout, stderr or a file path)")

	flags.String("bind", "", "Address to bind (default: all interfaces)")
	flags.IntP("nfs-port", "n", config.DefaultNFSPort, "NFS port")
	flags.IntP("mount-port", "m", config.DefaultMountPort, "MOUNT port")
	flags.BoolP("tcp-only", "t", false, "Do not serve UDP")
	flags.BoolP("portmap", "p", false, "Register with the local portmapper")
	flags.StringP("pid-file", "i", "", "Write and lock a pid file")
	flags.Int("max-connections", 0, "Maximum concurrent TCP connections (0 = unlimited)")
	flags.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	flags.String("backend", "local", "Storage backend (local, memory, s3)")

	flags.Bool("metrics", false, "Serve Prometheus metrics")
	flags.Int("metrics-port", config.DefaultMetricsPort, "Metrics HTTP port")

	return flags, configPath
}

func runServer(args []string) int {
	flags, configPath := newFlagSet()
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log output: %v\n", err)
		return 1
	}

	if err := run(cfg, *configPath, flags); err != nil {
		logger.Error("%v", err)
		return 1
	}
	return 0
}

func run(cfg *config.Config, configPath string, flags *pflag.FlagSet) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("unfsd starting")
	logger.Debug("Log level set to: %s", cfg.Logging.Level)

	// Metrics first so the S3 backend picks up its collectors
	metricsResult := config.InitializeMetrics(cfg)

	be, err := config.CreateBackend(ctx, &cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	stores, err := config.OpenStores(cfg)
	if err != nil {
		_ = be.Shutdown()
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("Failed to close stores: %v", err)
		}
	}()

	srv, err := server.New(cfg.ServerConfig(), server.Options{
		Backend:     be,
		Registry:    stores.Registry,
		HandleIndex: stores.HandleIndex,
		Limiter:     cfg.NewRateLimiter(),
		Metrics:     metricsResult.NFSMetrics,
		Reload:      config.Reloader(configPath, flags),
	})
	if err != nil {
		_ = be.Shutdown()
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("Server configuration:")
	logger.Info("  NFS port: %d, MOUNT port: %d", cfg.Server.NFSPort, cfg.Server.MountPort)
	if cfg.Server.TCPOnly {
		logger.Info("  Transports: tcp")
	} else {
		logger.Info("  Transports: tcp, udp")
	}
	if cfg.Server.MaxConnections > 0 {
		logger.Info("  Max connections: %d", cfg.Server.MaxConnections)
	} else {
		logger.Info("  Max connections: unlimited")
	}
	for _, exp := range stores.Registry.Exports() {
		mode := "read-write"
		if exp.ReadOnly {
			mode = "read-only"
		}
		logger.Info("  Export: %s (%s)", exp.Path, mode)
	}

	admin, err := metricsResult.AdminServer(srv.Snapshot)
	if err != nil {
		_ = be.Shutdown()
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if admin != nil {
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = admin.Stop(stopCtx)
		}()
		logger.Info("Metrics enabled on port %d", cfg.Metrics.Port)
	}

	// Run owns the signal handling and returns once drained
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
