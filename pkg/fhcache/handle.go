package fhcache

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-restruct/restruct"
	"github.com/souravgh/unfs2go/pkg/backend"
)

const (
	// Size is the wire length of every handle.
	Size = 60

	// MaxDepth is the number of ancestor hashes a handle can carry. Paths
	// deeper than MaxDepth+1 components cannot be given a handle.
	MaxDepth = 36

	handleVersion = 1
)

var (
	// ErrBadHandle reports a token that is not a handle of this server.
	ErrBadHandle = errors.New("malformed file handle")

	// ErrStale reports a handle whose object was deleted or replaced.
	ErrStale = errors.New("stale file handle")

	// ErrNotFound reports a handle no object could be located for.
	ErrNotFound = errors.New("file handle not found")

	// ErrTooDeep reports a path with more components than a handle holds.
	ErrTooDeep = errors.New("path too deep for file handle")
)

// Handle is the opaque token given to clients.
type Handle [Size]byte

func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}

// layout is the packed form of a Handle.
//
// Depth counts path components below "/". Hashes holds one byte per
// ancestor directory strictly between "/" and the object itself, so a
// handle at depth d uses d-1 hash bytes.
type layout struct {
	Version uint8
	Depth   uint8
	Pad     [2]byte
	Dev     uint64
	Ino     uint64
	Gen     uint32
	Hashes  [MaxDepth]byte
}

// hashIno folds an inode number into one byte.
func hashIno(ino uint64) byte {
	var h byte
	for i := 0; i < 8; i++ {
		h ^= byte(ino >> (8 * i))
	}
	return h
}

func (l *layout) identity() backend.Identity {
	return backend.Identity{Dev: l.Dev, Ino: l.Ino, Gen: l.Gen}
}

func pack(l *layout) (Handle, error) {
	var h Handle
	data, err := restruct.Pack(binary.BigEndian, l)
	if err != nil {
		return h, fmt.Errorf("pack handle: %w", err)
	}
	if len(data) != Size {
		return h, fmt.Errorf("pack handle: got %d bytes", len(data))
	}
	copy(h[:], data)
	return h, nil
}

// Decode validates a wire handle and returns its fixed-size form.
func Decode(raw []byte) (Handle, error) {
	var h Handle
	if len(raw) != Size {
		return h, ErrBadHandle
	}
	copy(h[:], raw)
	if _, err := unpack(h); err != nil {
		return h, err
	}
	return h, nil
}

func unpack(h Handle) (*layout, error) {
	var l layout
	if err := restruct.Unpack(h[:], binary.BigEndian, &l); err != nil {
		return nil, ErrBadHandle
	}
	if l.Version != handleVersion || int(l.Depth) > MaxDepth+1 {
		return nil, ErrBadHandle
	}
	return &l, nil
}

// newLayout builds the layout of an object with attributes attr whose
// ancestors (below "/") carry the given hashes.
func newLayout(attr *backend.Attr, depth int, ancestors []byte) (*layout, error) {
	if depth > MaxDepth+1 || len(ancestors) > MaxDepth {
		return nil, ErrTooDeep
	}
	l := &layout{
		Version: handleVersion,
		Depth:   uint8(depth),
		Dev:     attr.Dev,
		Ino:     attr.Ino,
		Gen:     attr.Gen,
	}
	copy(l.Hashes[:], ancestors)
	return l, nil
}
