package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// MkdirRequest is MKDIR3args.
type MkdirRequest struct {
	DirHandle []byte
	Name      string
	Attr      *types.SetAttrs
}

// Mkdir creates a directory (RFC 1813 Section 3.3.9). The reply has the
// CREATE3res layout.
func (h *Handler) Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*CreateResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("MKDIR: name='%s' dir=%x client=%s", req.Name, req.DirHandle, clientIP)

	if ctx.cancelled() {
		return &CreateResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	dir, before, status := h.prepareCreate(ctx, req.DirHandle, req.Name, "MKDIR")
	if status != types.NFS3OK {
		return h.createFailed(status, dir, before), nil
	}
	p := childPath(dir.path, req.Name)

	if err := h.Backend.Mkdir(p, createMode(req.Attr, 0755)); err != nil {
		return h.createFailed(xdr.MapBackendErrorToNFSStatus(err, clientIP, "MKDIR"), dir, before), nil
	}
	h.setOwner(p, h.identity(ctx, dir), dir.export, req.Attr)

	logger.Info("MKDIR successful: path=%s client=%s", p, clientIP)
	return h.created(dir, before, req.Name), nil
}

// DecodeMkdirRequest decodes MKDIR3args: diropargs3 where, sattr3 attributes.
func DecodeMkdirRequest(data []byte) (*MkdirRequest, error) {
	reader := bytes.NewReader(data)
	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return &MkdirRequest{DirHandle: handle, Name: name, Attr: attr}, nil
}
