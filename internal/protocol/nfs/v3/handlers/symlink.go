package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// SymlinkRequest is SYMLINK3args.
type SymlinkRequest struct {
	DirHandle []byte
	Name      string
	Attr      *types.SetAttrs
	Target    string
}

// Symlink creates a symbolic link (RFC 1813 Section 3.3.10). The target is
// stored verbatim and never interpreted by the server. Mode bits in Attr
// are ignored; link permissions are not meaningful.
func (h *Handler) Symlink(ctx *NFSHandlerContext, req *SymlinkRequest) (*CreateResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("SYMLINK: name='%s' target='%s' dir=%x client=%s", req.Name, req.Target, req.DirHandle, clientIP)

	if ctx.cancelled() {
		return &CreateResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	dir, before, status := h.prepareCreate(ctx, req.DirHandle, req.Name, "SYMLINK")
	if status != types.NFS3OK {
		return h.createFailed(status, dir, before), nil
	}

	switch {
	case req.Target == "":
		return h.createFailed(types.NFS3ErrInval, dir, before), nil
	case len(req.Target) > types.PathMax:
		return h.createFailed(types.NFS3ErrNameTooLong, dir, before), nil
	}

	p := childPath(dir.path, req.Name)
	if err := h.Backend.Symlink(req.Target, p); err != nil {
		return h.createFailed(xdr.MapBackendErrorToNFSStatus(err, clientIP, "SYMLINK"), dir, before), nil
	}
	h.setOwner(p, h.identity(ctx, dir), dir.export, req.Attr)

	logger.Info("SYMLINK successful: path=%s client=%s", p, clientIP)
	return h.created(dir, before, req.Name), nil
}

// DecodeSymlinkRequest decodes SYMLINK3args:
//
//	diropargs3   where
//	sattr3       symlink_attributes
//	nfspath3     symlink_data
func DecodeSymlinkRequest(data []byte) (*SymlinkRequest, error) {
	reader := bytes.NewReader(data)
	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	target, err := xdr.DecodeString(reader)
	if err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}
	return &SymlinkRequest{DirHandle: handle, Name: name, Attr: attr, Target: target}, nil
}
