package registry

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/souravgh/unfs2go/internal/logger"
)

// Registry holds the export table and the MOUNT bookkeeping of a running
// server. It is safe for concurrent use; Reload swaps the export table
// atomically so the SIGHUP path never races a dispatching handler.
//
// Example usage:
//
//	reg, _ := registry.New([]registry.Export{{Path: "/data"}}, nil)
//	exp, ok := reg.Lookup("/data/projects/a.txt")
//	id := reg.MapIdentity(exp, registry.Credentials{UID: 0, GID: 0})
type Registry struct {
	mu      sync.RWMutex
	exports []*Export

	daemon Identity

	mountsMu sync.Mutex
	mounts   map[Mount]struct{}
	store    MountStore
}

// New builds a registry from the given exports. store may be nil, in which
// case the mount table lives in memory only.
func New(exports []Export, store MountStore) (*Registry, error) {
	r := &Registry{
		daemon: Identity{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())},
		mounts: make(map[Mount]struct{}),
		store:  store,
	}
	if err := r.Reload(exports); err != nil {
		return nil, err
	}

	if store != nil {
		saved, err := store.List()
		if err != nil {
			return nil, fmt.Errorf("failed to load mount table: %w", err)
		}
		for _, m := range saved {
			r.mounts[m] = struct{}{}
		}
		logger.Debug("Loaded %d mount entries from mount table", len(saved))
	}
	return r, nil
}

// Reload validates and installs a new export table. On error the current
// table is left untouched.
func (r *Registry) Reload(exports []Export) error {
	table := make([]*Export, 0, len(exports))
	seen := make(map[string]bool, len(exports))
	for i := range exports {
		exp := exports[i]
		if !strings.HasPrefix(exp.Path, "/") {
			return fmt.Errorf("export %q: path must be absolute", exp.Path)
		}
		exp.Path = path.Clean(exp.Path)
		if seen[exp.Path] {
			return fmt.Errorf("export %q: listed twice", exp.Path)
		}
		seen[exp.Path] = true
		exp.AllowedClients = append([]string(nil), exp.AllowedClients...)
		table = append(table, &exp)
	}

	// Longest path first so Lookup returns the innermost export.
	sort.Slice(table, func(i, j int) bool {
		return len(table[i].Path) > len(table[j].Path)
	})

	r.mu.Lock()
	r.exports = table
	r.mu.Unlock()

	logger.Info("Export table loaded: %d export(s)", len(table))
	return nil
}

// Lookup returns the innermost export containing p.
func (r *Registry) Lookup(p string) (*Export, bool) {
	p = path.Clean("/" + p)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, exp := range r.exports {
		if exp.Contains(p) {
			return exp, true
		}
	}
	return nil, false
}

// Exports returns a copy of the export table sorted by path.
func (r *Registry) Exports() []Export {
	r.mu.RLock()
	out := make([]Export, 0, len(r.exports))
	for _, exp := range r.exports {
		out = append(out, *exp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Count returns the number of exports.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exports)
}
