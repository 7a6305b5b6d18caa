package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/registry"
)

// AccessRequest is ACCESS3args.
type AccessRequest struct {
	Handle []byte

	// Access is a bitmap of types.Access* values the client asks about.
	Access uint32
}

// AccessResponse is ACCESS3res.
type AccessResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr

	// Access is the subset of the requested bits that are granted.
	Access uint32
}

// Access reports which of the requested permissions the caller holds on an
// object (RFC 1813 Section 3.3.4).
//
// The answer is computed from the object's mode bits against the caller's
// identity after export mapping. Root is granted every requested bit.
// Modify, Extend and Delete are never granted on read-only exports.
func (h *Handler) Access(ctx *NFSHandlerContext, req *AccessRequest) (*AccessResponse, error) {
	logger.Debug("ACCESS: handle=%x access=0x%x client=%s", req.Handle, req.Access, ctx.ClientAddr)

	if ctx.cancelled() {
		return &AccessResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "ACCESS")
	if status != types.NFS3OK {
		return &AccessResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	id := h.identity(ctx, obj)
	granted := grantedAccess(obj.attr, id, req.Access)
	if obj.export.ReadOnly {
		granted &^= types.AccessModify | types.AccessExtend | types.AccessDelete
	}

	logger.Debug("ACCESS: path=%s identity=%s requested=0x%x granted=0x%x", obj.path, id, req.Access, granted)
	return &AccessResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            xdr.ToNFSAttr(obj.attr),
		Access:          granted,
	}, nil
}

// grantedAccess evaluates the owner, group or other permission triplet
// that applies to id.
func grantedAccess(attr *backend.Attr, id registry.Identity, requested uint32) uint32 {
	if id.UID == 0 {
		return requested
	}

	var perm uint32
	switch {
	case id.UID == attr.UID:
		perm = (attr.Mode >> 6) & 7
	case id.InGroup(attr.GID):
		perm = (attr.Mode >> 3) & 7
	default:
		perm = attr.Mode & 7
	}

	var granted uint32
	if perm&4 != 0 {
		granted |= types.AccessRead
	}
	if perm&2 != 0 {
		granted |= types.AccessModify | types.AccessExtend
		if attr.Type == backend.TypeDirectory {
			granted |= types.AccessDelete
		}
	}
	if perm&1 != 0 {
		if attr.Type == backend.TypeDirectory {
			granted |= types.AccessLookup
		} else {
			granted |= types.AccessExecute
		}
	}
	return granted & requested
}

// DecodeAccessRequest decodes ACCESS3args: nfs_fh3 object, uint32 access.
func DecodeAccessRequest(data []byte) (*AccessRequest, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	access, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode access: %w", err)
	}
	return &AccessRequest{Handle: handle, Access: access}, nil
}

// Encode serializes ACCESS3res.
func (resp *AccessResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status == types.NFS3OK {
		if err := xdr.WriteUint32(&buf, resp.Access); err != nil {
			return nil, fmt.Errorf("write access: %w", err)
		}
	}
	return buf.Bytes(), nil
}
