//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/backend/local"
	"github.com/souravgh/unfs2go/pkg/backend/memory"
	s3backend "github.com/souravgh/unfs2go/pkg/backend/s3"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	fhbadger "github.com/souravgh/unfs2go/pkg/fhcache/badger"
)

// BackendType selects the storage backend behind the export.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendLocal  BackendType = "local"
	BackendS3     BackendType = "s3"
)

// IndexType selects the handle index.
type IndexType string

const (
	IndexNone   IndexType = "none"
	IndexBadger IndexType = "badger"
)

// TestContextProvider is an interface for providing test context dependencies
type TestContextProvider interface {
	CreateTempDir(prefix string) string
	GetConfig() *TestConfig
	GetPort() int
}

// TestConfig holds the configuration for a test run
type TestConfig struct {
	Name        string
	Backend     BackendType
	HandleIndex IndexType

	// S3-specific fields (set by localstack setup)
	s3Client   *s3.Client
	s3Endpoint string
	s3Bucket   string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.Backend, tc.HandleIndex)
}

// CreateBackend creates the backend and returns it with the export path to
// serve. The local backend exports a fresh host directory; the others
// export /export.
func (tc *TestConfig) CreateBackend(ctx context.Context, testCtx TestContextProvider) (backend.Backend, string, error) {
	switch tc.Backend {
	case BackendMemory:
		be, err := memory.New(memory.Config{Dirs: []string{"/export"}})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create memory backend: %w", err)
		}
		return be, "/export", nil

	case BackendLocal:
		exportPath := testCtx.CreateTempDir("unfsd-e2e-export-*")
		be, err := local.New(local.Config{Generations: true})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create local backend: %w", err)
		}
		return be, exportPath, nil

	case BackendS3:
		// S3 requires localstack setup
		if tc.s3Client == nil {
			return nil, "", fmt.Errorf("S3 client not initialized (localstack not running?)")
		}
		be, err := s3backend.New(ctx, tc.s3Client, s3backend.Config{
			Endpoint:  tc.s3Endpoint,
			Region:    "us-east-1",
			Bucket:    tc.s3Bucket,
			KeyPrefix: fmt.Sprintf("test-%d/", testCtx.GetPort()),
		}, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create S3 backend: %w", err)
		}
		if err := be.Mkdir("/export", 0755); err != nil {
			return nil, "", fmt.Errorf("failed to create export root: %w", err)
		}
		return be, "/export", nil

	default:
		return nil, "", fmt.Errorf("unknown backend type: %s", tc.Backend)
	}
}

// CreateHandleIndex opens the handle index, or returns nil for IndexNone.
func (tc *TestConfig) CreateHandleIndex(testCtx TestContextProvider) (fhcache.Index, func() error, error) {
	switch tc.HandleIndex {
	case IndexNone, "":
		return nil, func() error { return nil }, nil

	case IndexBadger:
		dbPath := filepath.Join(testCtx.CreateTempDir("unfsd-badger-*"), "handles")
		idx, err := fhbadger.Open(fhbadger.Config{Path: dbPath})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger handle index: %w", err)
		}
		return idx, idx.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown handle index type: %s", tc.HandleIndex)
	}
}

// AllConfigurations returns all test configurations to run
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:        "memory",
			Backend:     BackendMemory,
			HandleIndex: IndexNone,
		},
		{
			Name:        "local",
			Backend:     BackendLocal,
			HandleIndex: IndexNone,
		},
		{
			Name:        "local-badger",
			Backend:     BackendLocal,
			HandleIndex: IndexBadger,
		},
	}
}

// S3Configurations returns configurations that use S3 (requires localstack)
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:        "s3",
			Backend:     BackendS3,
			HandleIndex: IndexNone,
		},
		{
			Name:        "s3-badger",
			Backend:     BackendS3,
			HandleIndex: IndexBadger,
		},
	}
}
