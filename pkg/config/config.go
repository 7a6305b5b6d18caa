package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the complete unfsd configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (UNFSD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The Backend section holds
// one option map per backend type and only the map matching the selected
// type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the transport and event loop settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Backend selects the storage backend and its options
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// HandleIndex persists file handles so they resolve after a restart
	HandleIndex HandleIndexConfig `mapstructure:"handle_index" yaml:"handle_index"`

	// MountTable persists the MOUNT DUMP list
	MountTable MountTableConfig `mapstructure:"mount_table" yaml:"mount_table"`

	// Exports lists the exported directory trees
	Exports []ExportConfig `mapstructure:"exports" yaml:"exports" validate:"dive"`

	// Metrics configures Prometheus metrics and the admin HTTP server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig holds the daemon settings.
type ServerConfig struct {
	// BindAddress is the local address for both services (empty = all)
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address" validate:"omitempty,ip"`

	// NFSPort is the NFS service port (0 = ephemeral)
	NFSPort int `mapstructure:"nfs_port" yaml:"nfs_port" validate:"gte=0,lte=65535"`

	// MountPort is the MOUNT service port (0 = ephemeral)
	MountPort int `mapstructure:"mount_port" yaml:"mount_port" validate:"gte=0,lte=65535"`

	// TCPOnly disables the UDP sockets
	TCPOnly bool `mapstructure:"tcp_only" yaml:"tcp_only"`

	// RegisterPortmap registers both services with the local portmapper
	RegisterPortmap bool `mapstructure:"register_portmap" yaml:"register_portmap"`

	// TickInterval is the housekeeping period of the event loop
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gt=0"`

	// FDIdleTimeout closes cached descriptors unused for this long
	FDIdleTimeout time.Duration `mapstructure:"fd_idle_timeout" yaml:"fd_idle_timeout" validate:"gt=0"`

	// FHCacheSize bounds the file handle cache
	FHCacheSize int `mapstructure:"fh_cache_size" yaml:"fh_cache_size" validate:"gt=0"`

	// FDCacheSize bounds the number of cached open descriptors
	FDCacheSize int `mapstructure:"fd_cache_size" yaml:"fd_cache_size" validate:"gt=0"`

	// CookieEpochInterval advances the READDIR cookie epoch (0 = never)
	CookieEpochInterval time.Duration `mapstructure:"cookie_epoch_interval" yaml:"cookie_epoch_interval" validate:"gte=0"`

	// PidFile is created and locked at startup when set
	PidFile string `mapstructure:"pid_file" yaml:"pid_file"`

	// ShutdownTimeout is the maximum time to wait for connections to close
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	// IdleTimeout closes TCP connections without traffic for this long
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// WriteTimeout bounds writing one TCP reply
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// MaxConnections limits concurrent TCP connections (0 = unlimited)
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	// RateLimit throttles calls per client host
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket size; raised to RequestsPerSecond if smaller
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// BackendConfig specifies the storage backend.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific section is used.
type BackendConfig struct {
	// Type specifies which backend to use
	// Valid values: local, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=local memory s3"`

	// Local contains local filesystem options
	// Only used when Type = "local"
	Local map[string]any `mapstructure:"local" yaml:"local,omitempty"`

	// Memory contains in-memory backend options
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// S3 contains S3 options
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// HandleIndexConfig configures the persistent handle index.
type HandleIndexConfig struct {
	// Path is the BadgerDB directory. Empty disables the index.
	Path string `mapstructure:"path" yaml:"path"`
}

// MountTableConfig configures the persistent mount table.
type MountTableConfig struct {
	// Path is the BadgerDB directory. Empty keeps the table in memory.
	Path string `mapstructure:"path" yaml:"path"`
}

// ExportConfig defines one exported directory.
type ExportConfig struct {
	// Path is the absolute backend path of the export root
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`

	// AllowedClients lists IP addresses, CIDR ranges or host names that may
	// mount the export. "*" admits everyone; empty admits loopback only.
	AllowedClients []string `mapstructure:"allowed_clients" yaml:"allowed_clients"`

	// ReadOnly rejects modifying procedures with NFS3ERR_ROFS
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// IdentityMapping configures credential squashing
	IdentityMapping registry.IdentityMapping `mapstructure:"identity_mapping" yaml:"identity_mapping"`
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the admin server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the admin HTTP port
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,gt=0,lte=65535"`
}

// flagKeys maps command-line flag names to configuration keys. Only flags
// present in the FlagSet given to Load are bound.
var flagKeys = map[string]string{
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-output":       "logging.output",
	"bind":             "server.bind_address",
	"nfs-port":         "server.nfs_port",
	"mount-port":       "server.mount_port",
	"tcp-only":         "server.tcp_only",
	"portmap":          "server.register_portmap",
	"pid-file":         "server.pid_file",
	"max-connections":  "server.max_connections",
	"shutdown-timeout": "server.shutdown_timeout",
	"backend":          "backend.type",
	"metrics":          "metrics.enabled",
	"metrics-port":     "metrics.port",
}

// Load loads configuration from file, environment, flags and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - flags: Command-line flags to bind, may be nil
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: UNFSD_SERVER_NFS_PORT=2049
	v.SetEnvPrefix("UNFSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "unfsd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "unfsd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
