// Package fdcache keeps backend files open between NFS requests.
//
// Entries are keyed by object identity and access mode, so a file may have
// one shared read descriptor and one write descriptor open at once. Each
// entry records when it was last used and how many handlers currently hold
// it. The server loop calls CloseIdle on every tick; writers are synced
// before they are closed.
package fdcache

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// DefaultMaxSize bounds the number of open descriptors.
const DefaultMaxSize = 1024

type mode uint8

const (
	modeRead mode = iota
	modeWrite
)

func (m mode) String() string {
	if m == modeWrite {
		return "write"
	}
	return "read"
}

type key struct {
	id   backend.Identity
	mode mode
}

type cacheEntry struct {
	key     key
	path    string
	file    backend.File
	lastUse time.Time
	users   int
}

// Descriptor is an open file held by one handler until Release.
type Descriptor struct {
	backend.File
	entry *cacheEntry
}

// Cache is an LRU of open backend files.
type Cache struct {
	be      backend.Backend
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	cache   map[key]*list.Element
	lru     *list.List
	readers int
	writers int
}

// New returns a cache opening files through be.
func New(be backend.Backend, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		be:      be,
		maxSize: maxSize,
		now:     time.Now,
		cache:   make(map[key]*list.Element),
		lru:     list.New(),
	}
}

// AcquireForRead returns the shared read descriptor of id, opening path if
// none is cached.
func (c *Cache) AcquireForRead(id backend.Identity, path string) (*Descriptor, error) {
	return c.acquire(key{id: id, mode: modeRead}, path)
}

// AcquireForWrite returns the write descriptor of id, opening path if none
// is cached.
func (c *Cache) AcquireForWrite(id backend.Identity, path string) (*Descriptor, error) {
	return c.acquire(key{id: id, mode: modeWrite}, path)
}

func (c *Cache) acquire(k key, path string) (*Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[k]; ok {
		e := elem.Value.(*cacheEntry)
		e.users++
		e.lastUse = c.now()
		e.path = path
		c.lru.MoveToFront(elem)
		return &Descriptor{File: e.file, entry: e}, nil
	}

	flag := os.O_RDONLY
	if k.mode == modeWrite {
		flag = os.O_RDWR
	}
	f, err := c.be.Open(path, flag, 0)
	if err != nil {
		return nil, err
	}

	if c.lru.Len() >= c.maxSize {
		if err := c.evictLRU(); err != nil {
			logger.Warn("fdcache: evict failed: %v", err)
		}
	}

	e := &cacheEntry{key: k, path: path, file: f, lastUse: c.now(), users: 1}
	c.cache[k] = c.lru.PushFront(e)
	c.count(k.mode, 1)
	return &Descriptor{File: f, entry: e}, nil
}

// Release ends a handler's hold on d. The descriptor stays open.
func (c *Cache) Release(d *Descriptor) {
	if d == nil || d.entry == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.entry.users > 0 {
		d.entry.users--
	}
	d.entry.lastUse = c.now()
	d.entry = nil
}

func (c *Cache) count(m mode, delta int) {
	if m == modeWrite {
		c.writers += delta
	} else {
		c.readers += delta
	}
}

// closeEntry syncs writers, closes the file and drops the entry.
func (c *Cache) closeEntry(elem *list.Element) error {
	e := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.cache, e.key)
	c.count(e.key.mode, -1)

	var syncErr error
	if e.key.mode == modeWrite {
		syncErr = e.file.Sync()
	}
	closeErr := e.file.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("close %s descriptor %s: %w", e.key.mode, e.path, err)
	}
	return nil
}

// evictLRU closes the least recently used descriptor nobody holds.
func (c *Cache) evictLRU() error {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*cacheEntry).users == 0 {
			return c.closeEntry(elem)
		}
	}
	return nil
}

// CloseIdle closes every unheld descriptor unused for at least threshold
// and reports how many were closed.
func (c *Cache) CloseIdle(threshold time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	closed := 0
	var errs []error
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*cacheEntry)
		if e.users == 0 && now.Sub(e.lastUse) >= threshold {
			if err := c.closeEntry(elem); err != nil {
				errs = append(errs, err)
			}
			closed++
		}
		elem = prev
	}
	return closed, errors.Join(errs...)
}

// PurgeAll closes every descriptor, held or not.
func (c *Cache) PurgeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for c.lru.Len() > 0 {
		if err := c.closeEntry(c.lru.Back()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync makes the data of id durable through its write descriptor, or a
// read descriptor when no writer is open.
func (c *Cache) Sync(id backend.Identity, path string) error {
	c.mu.Lock()
	elem, ok := c.cache[key{id: id, mode: modeWrite}]
	if ok {
		f := elem.Value.(*cacheEntry).file
		c.mu.Unlock()
		return f.Sync()
	}
	c.mu.Unlock()

	d, err := c.AcquireForRead(id, path)
	if err != nil {
		return err
	}
	defer c.Release(d)
	return d.Sync()
}

// Forget closes and drops both descriptors of id. It is used when the
// object is removed or replaced.
func (c *Cache) Forget(id backend.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, m := range []mode{modeRead, modeWrite} {
		if elem, ok := c.cache[key{id: id, mode: m}]; ok {
			if err := c.closeEntry(elem); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Counts reports the number of open read and write descriptors.
func (c *Cache) Counts() (readers, writers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readers, c.writers
}
