package xdr

import (
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// ToNFSAttr converts backend attributes to fattr3.
//
// fsid carries the backend device so clients see mount point crossings, and
// fileid the inode number. Only block and character devices report rdev.
func ToNFSAttr(attr *backend.Attr) *types.NFSFileAttr {
	if attr == nil {
		return nil
	}

	out := &types.NFSFileAttr{
		Type:   uint32(attr.Type),
		Mode:   attr.Mode & 07777,
		Nlink:  attr.Nlink,
		UID:    attr.UID,
		GID:    attr.GID,
		Size:   attr.Size,
		Used:   attr.Used,
		Fsid:   attr.Dev,
		Fileid: attr.Ino,
		Atime:  TimeToTimeVal(attr.Atime),
		Mtime:  TimeToTimeVal(attr.Mtime),
		Ctime:  TimeToTimeVal(attr.Ctime),
	}
	if attr.Type == backend.TypeBlock || attr.Type == backend.TypeChar {
		out.Rdev = types.SpecData{Major: attr.Major, Minor: attr.Minor}
	}
	return out
}

// CaptureWccAttr extracts the pre-operation attributes used in wcc_data.
func CaptureWccAttr(attr *backend.Attr) *types.WccAttr {
	if attr == nil {
		return nil
	}

	return &types.WccAttr{
		Size:  attr.Size,
		Mtime: TimeToTimeVal(attr.Mtime),
		Ctime: TimeToTimeVal(attr.Ctime),
	}
}
