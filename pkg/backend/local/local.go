//go:build linux

// Package local serves the host filesystem through golang.org/x/sys/unix.
package local

import (
	"os"
	"path"
	"sort"
	"time"

	"github.com/souravgh/unfs2go/pkg/backend"
	"golang.org/x/sys/unix"
)

// Config configures the local backend.
type Config struct {
	// Generations enables FS_IOC_GETVERSION lookups so handles to reused
	// inode numbers are detected as stale. Filesystems without the ioctl
	// report generation 0.
	Generations bool `mapstructure:"generations"`
}

// Backend implements backend.Backend on the host filesystem.
type Backend struct {
	cfg Config
}

var _ backend.Backend = (*Backend)(nil)

// New returns a local backend.
func New(cfg Config) (*Backend, error) {
	return &Backend{cfg: cfg}, nil
}

func fileType(mode uint32) backend.FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return backend.TypeDirectory
	case unix.S_IFLNK:
		return backend.TypeSymlink
	case unix.S_IFBLK:
		return backend.TypeBlock
	case unix.S_IFCHR:
		return backend.TypeChar
	case unix.S_IFSOCK:
		return backend.TypeSocket
	case unix.S_IFIFO:
		return backend.TypeFIFO
	default:
		return backend.TypeRegular
	}
}

func timespec(ts unix.Timespec) time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

func (b *Backend) Lstat(p string) (*backend.Attr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		return nil, backend.FromOS("lstat", p, err)
	}

	attr := &backend.Attr{
		Type:  fileType(st.Mode),
		Mode:  st.Mode & 0o7777,
		Nlink: uint32(st.Nlink),
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  uint64(st.Size),
		Used:  uint64(st.Blocks) * 512,
		Major: unix.Major(uint64(st.Rdev)),
		Minor: unix.Minor(uint64(st.Rdev)),
		Dev:   uint64(st.Dev),
		Ino:   st.Ino,
		Atime: timespec(st.Atim),
		Mtime: timespec(st.Mtim),
		Ctime: timespec(st.Ctim),
	}
	if b.cfg.Generations && (attr.Type == backend.TypeRegular || attr.Type == backend.TypeDirectory) {
		attr.Gen = generation(p)
	}
	return attr, nil
}

// generation reads the inode generation. Any failure yields 0, which
// disables reuse detection for that object.
func generation(p string) uint32 {
	fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0
	}
	defer func() { _ = unix.Close(fd) }()

	gen, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETVERSION)
	if err != nil {
		return 0
	}
	return gen
}

func (b *Backend) Open(p string, flag int, perm uint32) (backend.File, error) {
	f, err := os.OpenFile(p, flag|unix.O_NOFOLLOW, os.FileMode(perm&0o777))
	if err != nil {
		return nil, backend.FromOS("open", p, err)
	}
	if perm&0o7000 != 0 && flag&os.O_CREATE != 0 {
		// os.OpenFile only honours the permission bits
		_ = f.Chmod(os.FileMode(perm&0o777) | modeSpecial(perm))
	}
	return &file{File: f}, nil
}

func modeSpecial(perm uint32) os.FileMode {
	var m os.FileMode
	if perm&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if perm&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if perm&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}

func (b *Backend) Truncate(p string, size int64) error {
	return backend.FromOS("truncate", p, unix.Truncate(p, size))
}

func (b *Backend) Remove(p string) error {
	return backend.FromOS("remove", p, unix.Unlink(p))
}

func (b *Backend) Rmdir(p string) error {
	return backend.FromOS("rmdir", p, unix.Rmdir(p))
}

func (b *Backend) Rename(oldpath, newpath string) error {
	return backend.FromOS("rename", oldpath, unix.Rename(oldpath, newpath))
}

func (b *Backend) Link(oldpath, newpath string) error {
	return backend.FromOS("link", newpath, unix.Link(oldpath, newpath))
}

func (b *Backend) Symlink(target, newpath string) error {
	return backend.FromOS("symlink", newpath, unix.Symlink(target, newpath))
}

func (b *Backend) Mkdir(p string, perm uint32) error {
	return backend.FromOS("mkdir", p, unix.Mkdir(p, perm&0o7777))
}

func (b *Backend) Mknod(p string, ftype backend.FileType, perm uint32, major, minor uint32) error {
	var mode uint32
	switch ftype {
	case backend.TypeBlock:
		mode = unix.S_IFBLK
	case backend.TypeChar:
		mode = unix.S_IFCHR
	case backend.TypeFIFO:
		mode = unix.S_IFIFO
	case backend.TypeSocket:
		mode = unix.S_IFSOCK
	default:
		return backend.NewError("mknod", p, backend.ErrInvalid)
	}
	dev := int(unix.Mkdev(major, minor))
	return backend.FromOS("mknod", p, unix.Mknod(p, mode|(perm&0o7777), dev))
}

func (b *Backend) Readlink(p string) (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlink(p, buf)
	if err != nil {
		return "", backend.FromOS("readlink", p, err)
	}
	return string(buf[:n]), nil
}

func (b *Backend) Chmod(p string, mode uint32) error {
	return backend.FromOS("chmod", p, unix.Chmod(p, mode&0o7777))
}

func (b *Backend) Lchown(p string, uid, gid int) error {
	return backend.FromOS("lchown", p, unix.Lchown(p, uid, gid))
}

func (b *Backend) Chtimes(p string, atime, mtime time.Time) error {
	ts := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
	if !atime.IsZero() {
		ts[0] = unix.NsecToTimespec(atime.UnixNano())
	}
	if !mtime.IsZero() {
		ts[1] = unix.NsecToTimespec(mtime.UnixNano())
	}
	err := unix.UtimesNanoAt(unix.AT_FDCWD, p, ts, unix.AT_SYMLINK_NOFOLLOW)
	return backend.FromOS("chtimes", p, err)
}

func (b *Backend) StatFS(p string) (*backend.FSStat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return nil, backend.FromOS("statfs", p, err)
	}
	bsize := uint64(st.Bsize)
	return &backend.FSStat{
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bfree * bsize,
		AvailBytes: st.Bavail * bsize,
		TotalFiles: st.Files,
		FreeFiles:  st.Ffree,
		AvailFiles: st.Ffree,
	}, nil
}

func (b *Backend) ReadDir(p string) ([]backend.DirEntry, error) {
	dir, err := os.Open(p)
	if err != nil {
		return nil, backend.FromOS("opendir", p, err)
	}
	defer func() { _ = dir.Close() }()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, backend.FromOS("readdir", p, err)
	}
	sort.Strings(names)

	entries := make([]backend.DirEntry, 0, len(names))
	for _, name := range names {
		var st unix.Stat_t
		if err := unix.Lstat(path.Join(p, name), &st); err != nil {
			// raced with a concurrent unlink
			continue
		}
		entries = append(entries, backend.DirEntry{Name: name, Ino: st.Ino})
	}
	return entries, nil
}

func (b *Backend) Shutdown() error {
	return nil
}

// file wraps *os.File so errors carry backend kinds.
type file struct {
	*os.File
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.File.ReadAt(p, off)
	if err != nil && !isEOF(err) {
		return n, backend.FromOS("read", f.Name(), err)
	}
	return n, err
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.File.WriteAt(p, off)
	return n, backend.FromOS("write", f.Name(), err)
}

func (f *file) Sync() error {
	return backend.FromOS("fsync", f.Name(), f.File.Sync())
}

func (f *file) Close() error {
	return backend.FromOS("close", f.Name(), f.File.Close())
}
