package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const sampleHeader = `# unfsd Configuration File
#
# Every key can be overridden with an environment variable:
# UNFSD_<SECTION>_<KEY>, for example UNFSD_SERVER_NFS_PORT=2049.
#
# backend.type selects local, memory or s3; only the matching section is
# read. exports[].allowed_clients takes addresses, CIDR ranges or "*";
# an empty list admits loopback only.
#
# Send SIGHUP to reload exports and rate limits, SIGUSR1 to log cache
# statistics.

`

// InitConfig writes a sample configuration to the default location.
//
// Returns the path written. An existing file is only replaced when force
// is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigAt(path, force)
}

// InitConfigAt writes a sample configuration to path.
func InitConfigAt(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := SampleConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SampleConfig renders the default configuration as commented YAML.
func SampleConfig() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(sampleHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return buf.Bytes(), nil
}
