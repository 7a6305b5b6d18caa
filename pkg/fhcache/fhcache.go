// Package fhcache maps NFS file handles to backend paths.
//
// A handle encodes the identity (device, inode, generation) of an object
// plus a one-byte hash of every ancestor inode. The cache keeps recently
// used handle/path pairs in LRU order. When a handle is not cached it is
// relocated through the optional persistent Index, and failing that by a
// depth-first walk from "/" that follows only directories whose inode hash
// matches the next ancestor byte.
package fhcache

import (
	"container/list"
	"errors"
	"path"
	"strings"
	"sync"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 4096

// Index persists handle to path associations across restarts.
type Index interface {
	Lookup(h Handle) (string, bool, error)
	Store(h Handle, p string) error
	Delete(h Handle) error
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Entries int    `json:"entries"`
	Lookups uint64 `json:"lookups"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type entry struct {
	handle Handle
	path   string
	id     backend.Identity
}

// Cache is a bounded handle/path cache.
type Cache struct {
	be       backend.Backend
	index    Index
	capacity int

	mu       sync.Mutex
	lru      *list.List
	byHandle map[Handle]*list.Element
	byPath   map[string]*list.Element
	stats    Stats
}

// New returns a cache over be. index may be nil.
func New(be backend.Backend, capacity int, index Index) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		be:       be,
		index:    index,
		capacity: capacity,
		lru:      list.New(),
		byHandle: make(map[Handle]*list.Element),
		byPath:   make(map[string]*list.Element),
	}
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

// Resolve returns the current path and attributes of the object h names.
// It fails with ErrStale when the object's last known path now holds a
// different object, and with ErrNotFound when the object is simply gone.
func (c *Cache) Resolve(h Handle) (string, *backend.Attr, error) {
	l, err := unpack(h)
	if err != nil {
		return "", nil, err
	}
	want := l.identity()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Lookups++

	var replaced bool

	if elem, ok := c.byHandle[h]; ok {
		e := elem.Value.(*entry)
		attr, err := c.be.Lstat(e.path)
		if err == nil && attr.Identity() == want {
			c.stats.Hits++
			c.lru.MoveToFront(elem)
			return e.path, attr, nil
		}
		c.removeLocked(elem)
		if err == nil && attr.Dev == want.Dev && attr.Ino == want.Ino {
			c.stats.Misses++
			return "", nil, ErrStale
		}
		// The path now holds another object.
		replaced = err == nil
	}
	c.stats.Misses++

	p, attr, err := c.fromIndexLocked(h, want)
	if err == nil {
		c.insertLocked(h, p, attr)
		return p, attr, nil
	}
	replaced = replaced || errors.Is(err, ErrStale)

	p, attr, err = c.search(l)
	if errors.Is(err, ErrNotFound) && replaced {
		return "", nil, ErrStale
	}
	if err != nil {
		return "", nil, err
	}
	c.insertLocked(h, p, attr)
	return p, attr, nil
}

func (c *Cache) fromIndexLocked(h Handle, want backend.Identity) (string, *backend.Attr, error) {
	if c.index == nil {
		return "", nil, ErrNotFound
	}
	p, ok, err := c.index.Lookup(h)
	if err != nil {
		logger.Warn("handle index lookup failed: handle=%s error=%v", h, err)
		return "", nil, ErrNotFound
	}
	if !ok {
		return "", nil, ErrNotFound
	}
	attr, err := c.be.Lstat(p)
	if err != nil {
		_ = c.index.Delete(h)
		return "", nil, ErrNotFound
	}
	if attr.Identity() != want {
		_ = c.index.Delete(h)
		return "", nil, ErrStale
	}
	return p, attr, nil
}

// search walks the backend tree looking for the object l describes.
func (c *Cache) search(l *layout) (string, *backend.Attr, error) {
	if l.Depth == 0 {
		attr, err := c.be.Lstat("/")
		if err != nil {
			return "", nil, ErrNotFound
		}
		return c.match("/", attr, l)
	}
	return c.walk("/", 1, l)
}

func (c *Cache) match(p string, attr *backend.Attr, l *layout) (string, *backend.Attr, error) {
	if attr.Dev != l.Dev || attr.Ino != l.Ino {
		return "", nil, ErrNotFound
	}
	if attr.Gen != l.Gen {
		return "", nil, ErrStale
	}
	return p, attr, nil
}

// walk scans dir, which sits at depth level-1, for the next component.
func (c *Cache) walk(dir string, level int, l *layout) (string, *backend.Attr, error) {
	entries, err := c.be.ReadDir(dir)
	if err != nil {
		return "", nil, ErrNotFound
	}

	result := ErrNotFound
	for _, de := range entries {
		p := path.Join(dir, de.Name)
		if level == int(l.Depth) {
			if de.Ino != l.Ino {
				continue
			}
			attr, err := c.be.Lstat(p)
			if err != nil {
				continue
			}
			found, attr, err := c.match(p, attr, l)
			if err == nil {
				return found, attr, nil
			}
			if errors.Is(err, ErrStale) {
				result = ErrStale
			}
			continue
		}

		if hashIno(de.Ino) != l.Hashes[level-1] {
			continue
		}
		attr, err := c.be.Lstat(p)
		if err != nil || attr.Type != backend.TypeDirectory {
			continue
		}
		found, attr, err := c.walk(p, level+1, l)
		if err == nil {
			return found, attr, nil
		}
		if errors.Is(err, ErrStale) {
			result = ErrStale
		}
	}
	return "", nil, result
}

// HandleFor returns the handle of the object at p, creating cache entries
// for p and its ancestors as needed.
func (c *Cache) HandleFor(p string) (Handle, *backend.Attr, error) {
	p = path.Clean("/" + p)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleForLocked(p)
}

func (c *Cache) handleForLocked(p string) (Handle, *backend.Attr, error) {
	attr, err := c.be.Lstat(p)
	if err != nil {
		return Handle{}, nil, err
	}

	if elem, ok := c.byPath[p]; ok {
		e := elem.Value.(*entry)
		if e.id == attr.Identity() {
			c.lru.MoveToFront(elem)
			return e.handle, attr, nil
		}
		c.removeLocked(elem)
	}

	if p == "/" {
		l, err := newLayout(attr, 0, nil)
		if err != nil {
			return Handle{}, nil, err
		}
		return c.storeLocked(p, l, attr)
	}

	parent, parentAttr, err := c.handleForLocked(path.Dir(p))
	if err != nil {
		return Handle{}, nil, err
	}
	return c.childLocked(parent, parentAttr, p, attr)
}

// Compose returns the handle of name inside the directory parent, whose
// current path is parentPath.
func (c *Cache) Compose(parent Handle, parentPath, name string) (Handle, *backend.Attr, error) {
	pl, err := unpack(parent)
	if err != nil {
		return Handle{}, nil, err
	}
	p := path.Join(parentPath, name)
	attr, err := c.be.Lstat(p)
	if err != nil {
		return Handle{}, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byPath[p]; ok {
		e := elem.Value.(*entry)
		if e.id == attr.Identity() {
			c.lru.MoveToFront(elem)
			return e.handle, attr, nil
		}
		c.removeLocked(elem)
	}

	parentAttr := &backend.Attr{Dev: pl.Dev, Ino: pl.Ino, Gen: pl.Gen}
	return c.childLocked(parent, parentAttr, p, attr)
}

func (c *Cache) childLocked(parent Handle, parentAttr *backend.Attr, p string, attr *backend.Attr) (Handle, *backend.Attr, error) {
	pl, err := unpack(parent)
	if err != nil {
		return Handle{}, nil, err
	}
	depth := int(pl.Depth) + 1
	var hashes []byte
	if pl.Depth > 0 {
		if int(pl.Depth) > MaxDepth {
			return Handle{}, nil, ErrTooDeep
		}
		hashes = make([]byte, 0, pl.Depth)
		hashes = append(hashes, pl.Hashes[:pl.Depth-1]...)
		hashes = append(hashes, hashIno(parentAttr.Ino))
	}
	l, err := newLayout(attr, depth, hashes)
	if err != nil {
		return Handle{}, nil, err
	}
	return c.storeLocked(p, l, attr)
}

func (c *Cache) storeLocked(p string, l *layout, attr *backend.Attr) (Handle, *backend.Attr, error) {
	h, err := pack(l)
	if err != nil {
		return Handle{}, nil, err
	}
	c.insertLocked(h, p, attr)
	if c.index != nil {
		if err := c.index.Store(h, p); err != nil {
			logger.Warn("handle index store failed: path=%s error=%v", p, err)
		}
	}
	return h, attr, nil
}

func (c *Cache) insertLocked(h Handle, p string, attr *backend.Attr) {
	if elem, ok := c.byHandle[h]; ok {
		c.removeLocked(elem)
	}
	if elem, ok := c.byPath[p]; ok {
		c.removeLocked(elem)
	}
	e := &entry{handle: h, path: p, id: attr.Identity()}
	elem := c.lru.PushFront(e)
	c.byHandle[h] = elem
	c.byPath[p] = elem

	for c.lru.Len() > c.capacity {
		c.removeLocked(c.lru.Back())
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.lru.Remove(elem)
	if cur, ok := c.byHandle[e.handle]; ok && cur == elem {
		delete(c.byHandle, e.handle)
	}
	if cur, ok := c.byPath[e.path]; ok && cur == elem {
		delete(c.byPath, e.path)
	}
}

// Invalidate drops p and every cached path below it. It is called after
// REMOVE, RMDIR and RENAME.
func (c *Cache) Invalidate(p string) {
	p = path.Clean("/" + p)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.byPath {
		if key == p || strings.HasPrefix(key, prefix) {
			e := elem.Value.(*entry)
			if c.index != nil {
				_ = c.index.Delete(e.handle)
			}
			c.removeLocked(elem)
		}
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
