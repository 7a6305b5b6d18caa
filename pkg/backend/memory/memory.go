// Package memory provides an in-process Backend on top of an afero
// MemMapFs.
//
// Writes made through an open File stay in a per-inode pending list until
// Sync (or Truncate) applies them to the underlying filesystem. Crash
// discards everything still pending, which lets tests observe exactly
// which data an UNSTABLE write followed by COMMIT made durable.
//
// Symlinks, hard links and device nodes are not supported.
package memory

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/spf13/afero"
)

// DeviceID is the device number reported for every object.
const DeviceID = 1

// Config configures a memory backend.
type Config struct {
	// CapacityBytes is the size reported by StatFS. Writes are not refused
	// when it is exceeded. Default: 1 GiB.
	CapacityBytes uint64 `mapstructure:"capacity_bytes"`

	// MaxFiles is the inode count reported by StatFS. Default: 1<<20.
	MaxFiles uint64 `mapstructure:"max_files"`

	// Dirs are created at startup, for example the export roots.
	Dirs []string `mapstructure:"dirs"`
}

type node struct {
	ino   uint64
	gen   uint32
	uid   uint32
	gid   uint32
	atime time.Time
	mtime time.Time
	ctime time.Time
}

type pendingWrite struct {
	off  int64
	data []byte
}

// Backend is the afero-backed implementation of backend.Backend.
type Backend struct {
	cfg Config
	fs  afero.Fs

	mu      sync.Mutex
	nodes   map[string]*node
	pending map[uint64][]pendingWrite
	nextIno uint64
	nextGen uint32
	syncs   int
}

var _ backend.Backend = (*Backend)(nil)

// New creates an empty memory backend containing only "/" and cfg.Dirs.
func New(cfg Config) (*Backend, error) {
	if cfg.CapacityBytes == 0 {
		cfg.CapacityBytes = 1 << 30
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 1 << 20
	}

	b := &Backend{
		cfg:     cfg,
		fs:      afero.NewMemMapFs(),
		nodes:   make(map[string]*node),
		pending: make(map[uint64][]pendingWrite),
		nextIno: 1,
	}
	b.nodeFor("/")

	for _, dir := range cfg.Dirs {
		if err := b.fs.MkdirAll(clean(dir), 0755); err != nil {
			return nil, backend.FromOS("mkdir", dir, err)
		}
	}
	return b, nil
}

// Fs exposes the underlying filesystem so tests can seed content.
func (b *Backend) Fs() afero.Fs {
	return b.fs
}

// Crash drops every write that has not been synced.
func (b *Backend) Crash() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[uint64][]pendingWrite)
}

// Syncs reports how many Sync calls applied data, for tests.
func (b *Backend) Syncs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncs
}

func clean(p string) string {
	return path.Clean("/" + p)
}

// nodeFor returns the node for p, creating one with a fresh inode and
// generation if p has none yet. Caller holds mu, or is New.
func (b *Backend) nodeFor(p string) *node {
	if n, ok := b.nodes[p]; ok {
		return n
	}
	now := time.Now()
	b.nextGen++
	n := &node{ino: b.nextIno, gen: b.nextGen, atime: now, mtime: now, ctime: now}
	b.nextIno++
	b.nodes[p] = n
	return n
}

// forget drops p and, when p is a directory, everything below it.
func (b *Backend) forget(p string) {
	prefix := p + "/"
	for key, n := range b.nodes {
		if key == p || strings.HasPrefix(key, prefix) {
			delete(b.pending, n.ino)
			delete(b.nodes, key)
		}
	}
}

func (b *Backend) pendingEnd(ino uint64) int64 {
	var end int64
	for _, w := range b.pending[ino] {
		if e := w.off + int64(len(w.data)); e > end {
			end = e
		}
	}
	return end
}

func (b *Backend) Lstat(name string) (*backend.Attr, error) {
	p := clean(name)
	fi, err := b.fs.Stat(p)
	if err != nil {
		return nil, backend.FromOS("lstat", p, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodeFor(p)

	attr := &backend.Attr{
		Mode:  uint32(fi.Mode().Perm()),
		Nlink: 1,
		UID:   n.uid,
		GID:   n.gid,
		Dev:   DeviceID,
		Ino:   n.ino,
		Gen:   n.gen,
		Atime: n.atime,
		Mtime: n.mtime,
		Ctime: n.ctime,
	}
	if fi.IsDir() {
		attr.Type = backend.TypeDirectory
		attr.Nlink = 2
		attr.Size = 4096
	} else {
		attr.Type = backend.TypeRegular
		size := fi.Size()
		if end := b.pendingEnd(n.ino); end > size {
			size = end
		}
		attr.Size = uint64(size)
	}
	attr.Used = (attr.Size + 4095) &^ 4095
	return attr, nil
}

func (b *Backend) Open(name string, flag int, perm uint32) (backend.File, error) {
	p := clean(name)

	fi, statErr := b.fs.Stat(p)
	if statErr == nil {
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, backend.NewError("open", p, backend.ErrExist)
		}
		if fi.IsDir() && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, backend.NewError("open", p, backend.ErrIsDir)
		}
	} else if flag&os.O_CREATE == 0 {
		return nil, backend.FromOS("open", p, statErr)
	} else if err := b.requireDir(path.Dir(p)); err != nil {
		return nil, err
	}

	// The afero handle is opened read-write so Sync can apply pending
	// data regardless of the caller's access mode.
	f, err := b.fs.OpenFile(p, (flag&^(os.O_WRONLY|os.O_EXCL))|os.O_RDWR, os.FileMode(perm&0o7777))
	if err != nil {
		return nil, backend.FromOS("open", p, err)
	}

	b.mu.Lock()
	n := b.nodeFor(p)
	if flag&os.O_TRUNC != 0 {
		delete(b.pending, n.ino)
		n.mtime = time.Now()
		n.ctime = n.mtime
	}
	b.mu.Unlock()

	return &file{
		b:        b,
		f:        f,
		path:     p,
		ino:      n.ino,
		writable: flag&(os.O_WRONLY|os.O_RDWR) != 0,
	}, nil
}

func (b *Backend) requireDir(p string) error {
	fi, err := b.fs.Stat(p)
	if err != nil {
		return backend.FromOS("stat", p, err)
	}
	if !fi.IsDir() {
		return backend.NewError("stat", p, backend.ErrNotDir)
	}
	return nil
}

func (b *Backend) Truncate(name string, size int64) error {
	p := clean(name)
	if size < 0 {
		return backend.NewError("truncate", p, backend.ErrInvalid)
	}
	fi, err := b.fs.Stat(p)
	if err != nil {
		return backend.FromOS("truncate", p, err)
	}
	if fi.IsDir() {
		return backend.NewError("truncate", p, backend.ErrIsDir)
	}

	f, err := b.fs.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		return backend.FromOS("truncate", p, err)
	}
	defer func() { _ = f.Close() }()

	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodeFor(p)
	if err := b.applyLocked(f, n.ino); err != nil {
		return backend.FromOS("truncate", p, err)
	}
	if err := f.Truncate(size); err != nil {
		return backend.FromOS("truncate", p, err)
	}
	n.mtime = time.Now()
	n.ctime = n.mtime
	return nil
}

// applyLocked writes the pending list of ino into f.
func (b *Backend) applyLocked(f afero.File, ino uint64) error {
	for _, w := range b.pending[ino] {
		if _, err := f.WriteAt(w.data, w.off); err != nil {
			return err
		}
	}
	delete(b.pending, ino)
	return nil
}

func (b *Backend) Remove(name string) error {
	p := clean(name)
	fi, err := b.fs.Stat(p)
	if err != nil {
		return backend.FromOS("remove", p, err)
	}
	if fi.IsDir() {
		return backend.NewError("remove", p, backend.ErrIsDir)
	}
	if err := b.fs.Remove(p); err != nil {
		return backend.FromOS("remove", p, err)
	}

	b.mu.Lock()
	b.forget(p)
	b.touchParentLocked(p)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Rmdir(name string) error {
	p := clean(name)
	if p == "/" {
		return backend.NewError("rmdir", p, backend.ErrPermission)
	}
	fi, err := b.fs.Stat(p)
	if err != nil {
		return backend.FromOS("rmdir", p, err)
	}
	if !fi.IsDir() {
		return backend.NewError("rmdir", p, backend.ErrNotDir)
	}
	entries, err := afero.ReadDir(b.fs, p)
	if err != nil {
		return backend.FromOS("rmdir", p, err)
	}
	if len(entries) > 0 {
		return backend.NewError("rmdir", p, backend.ErrNotEmpty)
	}
	if err := b.fs.Remove(p); err != nil {
		return backend.FromOS("rmdir", p, err)
	}

	b.mu.Lock()
	b.forget(p)
	b.touchParentLocked(p)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Rename(oldname, newname string) error {
	from, to := clean(oldname), clean(newname)
	if from == to {
		return nil
	}
	if strings.HasPrefix(to, from+"/") {
		return backend.NewError("rename", from, backend.ErrInvalid)
	}

	src, err := b.fs.Stat(from)
	if err != nil {
		return backend.FromOS("rename", from, err)
	}
	if err := b.requireDir(path.Dir(to)); err != nil {
		return err
	}
	if dst, err := b.fs.Stat(to); err == nil {
		switch {
		case src.IsDir() && !dst.IsDir():
			return backend.NewError("rename", to, backend.ErrNotDir)
		case !src.IsDir() && dst.IsDir():
			return backend.NewError("rename", to, backend.ErrIsDir)
		case dst.IsDir():
			entries, err := afero.ReadDir(b.fs, to)
			if err != nil {
				return backend.FromOS("rename", to, err)
			}
			if len(entries) > 0 {
				return backend.NewError("rename", to, backend.ErrNotEmpty)
			}
		}
		if err := b.fs.Remove(to); err != nil {
			return backend.FromOS("rename", to, err)
		}
		b.mu.Lock()
		b.forget(to)
		b.mu.Unlock()
	}

	if err := b.move(from, to, src); err != nil {
		return backend.FromOS("rename", from, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := from + "/"
	moved := make(map[string]*node)
	for key, n := range b.nodes {
		switch {
		case key == from:
			moved[to] = n
			delete(b.nodes, key)
		case strings.HasPrefix(key, prefix):
			moved[to+"/"+strings.TrimPrefix(key, prefix)] = n
			delete(b.nodes, key)
		}
	}
	for key, n := range moved {
		b.nodes[key] = n
	}
	if n, ok := b.nodes[to]; ok {
		n.ctime = time.Now()
	}
	b.touchParentLocked(from)
	b.touchParentLocked(to)
	return nil
}

// move relocates a file, or a directory tree one entry at a time.
func (b *Backend) move(from, to string, fi os.FileInfo) error {
	if !fi.IsDir() {
		return b.fs.Rename(from, to)
	}
	if err := b.fs.Mkdir(to, fi.Mode().Perm()); err != nil {
		return err
	}
	children, err := afero.ReadDir(b.fs, from)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := b.move(path.Join(from, child.Name()), path.Join(to, child.Name()), child); err != nil {
			return err
		}
	}
	return b.fs.Remove(from)
}

func (b *Backend) touchParentLocked(p string) {
	if n, ok := b.nodes[path.Dir(p)]; ok {
		n.mtime = time.Now()
		n.ctime = n.mtime
	}
}

func (b *Backend) Link(oldname, newname string) error {
	return backend.NewError("link", clean(newname), backend.ErrNotSupported)
}

func (b *Backend) Symlink(target, newname string) error {
	return backend.NewError("symlink", clean(newname), backend.ErrNotSupported)
}

func (b *Backend) Readlink(name string) (string, error) {
	p := clean(name)
	if _, err := b.fs.Stat(p); err != nil {
		return "", backend.FromOS("readlink", p, err)
	}
	return "", backend.NewError("readlink", p, backend.ErrInvalid)
}

func (b *Backend) Mknod(name string, ftype backend.FileType, perm uint32, major, minor uint32) error {
	return backend.NewError("mknod", clean(name), backend.ErrNotSupported)
}

func (b *Backend) Mkdir(name string, perm uint32) error {
	p := clean(name)
	if _, err := b.fs.Stat(p); err == nil {
		return backend.NewError("mkdir", p, backend.ErrExist)
	}
	if err := b.requireDir(path.Dir(p)); err != nil {
		return err
	}
	if err := b.fs.Mkdir(p, os.FileMode(perm&0o7777)); err != nil {
		return backend.FromOS("mkdir", p, err)
	}

	b.mu.Lock()
	b.nodeFor(p)
	b.touchParentLocked(p)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Chmod(name string, mode uint32) error {
	p := clean(name)
	if err := b.fs.Chmod(p, os.FileMode(mode&0o777)); err != nil {
		return backend.FromOS("chmod", p, err)
	}
	b.mu.Lock()
	b.nodeFor(p).ctime = time.Now()
	b.mu.Unlock()
	return nil
}

func (b *Backend) Lchown(name string, uid, gid int) error {
	p := clean(name)
	if _, err := b.fs.Stat(p); err != nil {
		return backend.FromOS("lchown", p, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodeFor(p)
	if uid >= 0 {
		n.uid = uint32(uid)
	}
	if gid >= 0 {
		n.gid = uint32(gid)
	}
	n.ctime = time.Now()
	return nil
}

func (b *Backend) Chtimes(name string, atime, mtime time.Time) error {
	p := clean(name)
	if _, err := b.fs.Stat(p); err != nil {
		return backend.FromOS("chtimes", p, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodeFor(p)
	if !atime.IsZero() {
		n.atime = atime
	}
	if !mtime.IsZero() {
		n.mtime = mtime
	}
	n.ctime = time.Now()
	return nil
}

func (b *Backend) StatFS(name string) (*backend.FSStat, error) {
	var used uint64
	err := afero.Walk(b.fs, "/", func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			used += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return nil, backend.FromOS("statfs", clean(name), err)
	}

	b.mu.Lock()
	files := uint64(len(b.nodes))
	b.mu.Unlock()

	st := &backend.FSStat{TotalBytes: b.cfg.CapacityBytes, TotalFiles: b.cfg.MaxFiles}
	if used < st.TotalBytes {
		st.FreeBytes = st.TotalBytes - used
	}
	if files < st.TotalFiles {
		st.FreeFiles = st.TotalFiles - files
	}
	st.AvailBytes = st.FreeBytes
	st.AvailFiles = st.FreeFiles
	return st, nil
}

func (b *Backend) ReadDir(name string) ([]backend.DirEntry, error) {
	p := clean(name)
	if err := b.requireDir(p); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(b.fs, p)
	if err != nil {
		return nil, backend.FromOS("readdir", p, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]backend.DirEntry, 0, len(infos))
	for _, fi := range infos {
		n := b.nodeFor(path.Join(p, fi.Name()))
		entries = append(entries, backend.DirEntry{Name: fi.Name(), Ino: n.ino})
	}
	return entries, nil
}

func (b *Backend) Shutdown() error {
	return nil
}

// file is an open handle on the memory backend.
type file struct {
	b        *Backend
	f        afero.File
	path     string
	ino      uint64
	writable bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, backend.NewError("read", f.path, backend.ErrInvalid)
	}
	fi, err := f.f.Stat()
	if err != nil {
		return 0, backend.FromOS("read", f.path, err)
	}

	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	size := fi.Size()
	if end := f.b.pendingEnd(f.ino); end > size {
		size = end
	}
	if off >= size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > size {
		n = size - off
	}

	buf := p[:n]
	clear(buf)
	if _, err := f.f.ReadAt(buf, off); err != nil && err != io.EOF {
		return 0, backend.FromOS("read", f.path, err)
	}
	for _, w := range f.b.pending[f.ino] {
		lo := max(w.off, off)
		hi := min(w.off+int64(len(w.data)), off+n)
		if lo < hi {
			copy(buf[lo-off:hi-off], w.data[lo-w.off:hi-w.off])
		}
	}

	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if !f.writable {
		return 0, backend.NewError("write", f.path, backend.ErrPermission)
	}
	if off < 0 {
		return 0, backend.NewError("write", f.path, backend.ErrInvalid)
	}

	data := make([]byte, len(p))
	copy(data, p)

	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	f.b.pending[f.ino] = append(f.b.pending[f.ino], pendingWrite{off: off, data: data})
	if n, ok := f.b.nodes[f.path]; ok {
		n.mtime = time.Now()
		n.ctime = n.mtime
	}
	return len(p), nil
}

func (f *file) Sync() error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if len(f.b.pending[f.ino]) > 0 {
		f.b.syncs++
	}
	if err := f.b.applyLocked(f.f, f.ino); err != nil {
		return backend.FromOS("sync", f.path, err)
	}
	return nil
}

func (f *file) Close() error {
	if err := f.f.Close(); err != nil {
		return backend.FromOS("close", f.path, err)
	}
	return nil
}
