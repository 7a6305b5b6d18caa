// Package backend defines the storage capability set the NFS core calls
// into, plus the typed failures every implementation reports.
//
// Implementations:
//   - local:  the host filesystem via golang.org/x/sys/unix
//   - memory: an afero MemMapFs with simulated durability, used by tests
//   - s3:     an object store via aws-sdk-go-v2
//
// Every call returns a result or an error. An implementation that cannot
// provide an operation returns ErrNotSupported rather than panicking.
package backend

import (
	"io"
	"time"
)

// FileType enumerates the object kinds a backend can report.
// Values match the NFSv3 ftype3 numbering.
type FileType uint32

const (
	TypeRegular   FileType = 1
	TypeDirectory FileType = 2
	TypeBlock     FileType = 3
	TypeChar      FileType = 4
	TypeSymlink   FileType = 5
	TypeSocket    FileType = 6
	TypeFIFO      FileType = 7
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeBlock:
		return "block"
	case TypeChar:
		return "char"
	case TypeSymlink:
		return "symlink"
	case TypeSocket:
		return "socket"
	case TypeFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// Identity is the stable identity of a backend object. Generation changes
// when an inode number is reused for a new object, where the backend can
// tell.
type Identity struct {
	Dev uint64
	Ino uint64
	Gen uint32
}

// Attr is the attribute set of one backend object, as returned by Lstat.
type Attr struct {
	Type  FileType
	Mode  uint32 // permission bits including setuid/setgid/sticky
	Nlink uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Used  uint64
	Major uint32
	Minor uint32

	Dev uint64
	Ino uint64
	Gen uint32

	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Identity returns the identity triple of the object.
func (a *Attr) Identity() Identity {
	return Identity{Dev: a.Dev, Ino: a.Ino, Gen: a.Gen}
}

// FSStat reports filesystem-wide capacity.
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
}

// DirEntry is one directory member. "." and ".." are never returned.
type DirEntry struct {
	Name string
	Ino  uint64
}

// File is an open backend descriptor.
type File interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// Backend is the storage capability set. Paths are absolute and slash
// separated.
type Backend interface {
	// Lstat returns attributes without following a final symlink.
	Lstat(path string) (*Attr, error)

	// Open opens or creates a file. flag uses the os.O_* constants.
	Open(path string, flag int, perm uint32) (File, error)

	Truncate(path string, size int64) error
	Remove(path string) error
	Rmdir(path string) error
	Rename(oldpath, newpath string) error
	Link(oldpath, newpath string) error
	Symlink(target, newpath string) error
	Mkdir(path string, perm uint32) error

	// Mknod creates a device node, FIFO or socket.
	Mknod(path string, ftype FileType, perm uint32, major, minor uint32) error

	Readlink(path string) (string, error)
	Chmod(path string, mode uint32) error

	// Lchown changes ownership. A value of -1 leaves that id unchanged.
	Lchown(path string, uid, gid int) error

	// Chtimes sets access and modification times. A zero time leaves
	// that timestamp unchanged.
	Chtimes(path string, atime, mtime time.Time) error

	StatFS(path string) (*FSStat, error)

	// ReadDir lists a directory in a stable order.
	ReadDir(path string) ([]DirEntry, error)

	// Shutdown releases backend resources. It is called once, while the
	// server drains.
	Shutdown() error
}
