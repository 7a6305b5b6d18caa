package registry

import (
	"sort"

	"github.com/souravgh/unfs2go/internal/logger"
)

// Mount is one MOUNT table entry, as listed by DUMP.
type Mount struct {
	Host      string
	Directory string
}

// MountStore persists the mount table.
type MountStore interface {
	Save(m Mount) error
	Delete(m Mount) error
	List() ([]Mount, error)
}

// RecordMount adds an entry after a successful MNT.
func (r *Registry) RecordMount(host, dir string) {
	m := Mount{Host: host, Directory: dir}

	r.mountsMu.Lock()
	defer r.mountsMu.Unlock()
	if _, ok := r.mounts[m]; ok {
		return
	}
	r.mounts[m] = struct{}{}
	if r.store != nil {
		if err := r.store.Save(m); err != nil {
			logger.Warn("Failed to persist mount entry: host=%s dir=%s error=%v", host, dir, err)
		}
	}
}

// RemoveMount drops one entry and reports whether it existed.
func (r *Registry) RemoveMount(host, dir string) bool {
	m := Mount{Host: host, Directory: dir}

	r.mountsMu.Lock()
	defer r.mountsMu.Unlock()
	if _, ok := r.mounts[m]; !ok {
		return false
	}
	r.removeLocked(m)
	return true
}

// RemoveAllMounts drops every entry of host and returns how many were
// removed.
func (r *Registry) RemoveAllMounts(host string) int {
	r.mountsMu.Lock()
	defer r.mountsMu.Unlock()

	n := 0
	for m := range r.mounts {
		if m.Host == host {
			r.removeLocked(m)
			n++
		}
	}
	return n
}

func (r *Registry) removeLocked(m Mount) {
	delete(r.mounts, m)
	if r.store != nil {
		if err := r.store.Delete(m); err != nil {
			logger.Warn("Failed to delete mount entry: host=%s dir=%s error=%v", m.Host, m.Directory, err)
		}
	}
}

// ListMounts returns the mount table ordered by host, then directory.
func (r *Registry) ListMounts() []Mount {
	r.mountsMu.Lock()
	out := make([]Mount, 0, len(r.mounts))
	for m := range r.mounts {
		out = append(out, m)
	}
	r.mountsMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Directory < out[j].Directory
	})
	return out
}
