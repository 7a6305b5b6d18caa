//go:build !linux

package local

import (
	"errors"

	"github.com/souravgh/unfs2go/pkg/backend"
)

// Config configures the local backend.
type Config struct {
	Generations bool `mapstructure:"generations"`
}

// New reports that the local backend needs Linux.
func New(cfg Config) (backend.Backend, error) {
	return nil, errors.New("local backend is only available on linux")
}
