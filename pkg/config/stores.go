package config

import (
	"errors"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	fhbadger "github.com/souravgh/unfs2go/pkg/fhcache/badger"
	"github.com/souravgh/unfs2go/pkg/registry"
	regbadger "github.com/souravgh/unfs2go/pkg/registry/badger"
)

// Stores are the persistent databases opened from the configuration.
// Close releases them; it is safe to call on a partially opened value.
type Stores struct {
	// HandleIndex is nil when handle_index.path is empty.
	HandleIndex fhcache.Index

	Registry *registry.Registry

	closers []func() error
}

// Close closes every opened database.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// RegistryExports converts the configured exports for the registry.
func (c *Config) RegistryExports() []registry.Export {
	out := make([]registry.Export, 0, len(c.Exports))
	for _, e := range c.Exports {
		out = append(out, registry.Export{
			Path:           e.Path,
			ReadOnly:       e.ReadOnly,
			AllowedClients: append([]string(nil), e.AllowedClients...),
			Identity:       e.IdentityMapping,
		})
	}
	return out
}

// OpenStores opens the handle index and the mount table, then builds the
// export registry on top of the mount table.
//
// Example:
//
//	stores, err := config.OpenStores(cfg)
//	if err != nil {
//	    return err
//	}
//	defer stores.Close()
func OpenStores(cfg *Config) (*Stores, error) {
	s := &Stores{}

	if cfg.HandleIndex.Path != "" {
		idx, err := fhbadger.Open(fhbadger.Config{Path: cfg.HandleIndex.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open handle index: %w", err)
		}
		s.HandleIndex = idx
		s.closers = append(s.closers, idx.Close)
		logger.Info("Handle index opened at %s", cfg.HandleIndex.Path)
	}

	var mountStore registry.MountStore
	if cfg.MountTable.Path != "" {
		ms, err := regbadger.Open(regbadger.Config{Path: cfg.MountTable.Path})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open mount table: %w", err)
		}
		mountStore = ms
		s.closers = append(s.closers, ms.Close)
		logger.Info("Mount table opened at %s", cfg.MountTable.Path)
	}

	reg, err := registry.New(cfg.RegistryExports(), mountStore)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to build export registry: %w", err)
	}
	s.Registry = reg
	logger.Debug("Registered %d export(s)", reg.Count())

	return s, nil
}
