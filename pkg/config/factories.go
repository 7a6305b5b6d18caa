package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/backend/local"
	"github.com/souravgh/unfs2go/pkg/backend/memory"
	"github.com/souravgh/unfs2go/pkg/backend/s3"
	"github.com/souravgh/unfs2go/pkg/metrics"
)

// CreateBackend creates the storage backend selected by cfg.Type.
//
// The type-specific option map is decoded into the backend's own Config
// type and passed to its constructor.
//
// Supported types:
//   - "local": the host filesystem (pkg/backend/local)
//   - "memory": an in-memory tree, mainly for testing (pkg/backend/memory)
//   - "s3": Amazon S3 or a compatible store (pkg/backend/s3)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Backend configuration
//
// Returns:
//   - backend.Backend: Initialized backend
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, cfg *BackendConfig) (backend.Backend, error) {
	switch cfg.Type {
	case "local":
		return createLocalBackend(cfg.Local)
	case "memory":
		return createMemoryBackend(cfg.Memory)
	case "s3":
		return createS3Backend(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// decodeOptions decodes a backend option map into out. Durations may be
// given as strings ("30s") and numbers may be quoted, as they are when
// they come from environment variables.
func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}

func createLocalBackend(options map[string]any) (backend.Backend, error) {
	var cfg local.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode local backend config: %w", err)
	}

	be, err := local.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create local backend: %w", err)
	}
	logger.Info("Local backend initialized (generations=%v)", cfg.Generations)
	return be, nil
}

func createMemoryBackend(options map[string]any) (backend.Backend, error) {
	var cfg memory.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory backend config: %w", err)
	}

	be, err := memory.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory backend: %w", err)
	}
	logger.Info("Memory backend initialized with %d directories", len(cfg.Dirs))
	return be, nil
}

func createS3Backend(ctx context.Context, options map[string]any) (backend.Backend, error) {
	var cfg s3.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 backend: bucket is required")
	}

	client, err := s3.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// NewS3Metrics returns nil when metrics are disabled, which the backend
	// replaces with a no-op.
	be, err := s3.New(ctx, client, cfg, metrics.NewS3Metrics())
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)
	return be, nil
}
