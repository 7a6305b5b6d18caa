package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// MknodRequest is MKNOD3args.
type MknodRequest struct {
	DirHandle []byte
	Name      string

	// Type is the ftype3 of the node. Only NF3CHR, NF3BLK, NF3SOCK and
	// NF3FIFO can be created.
	Type uint32
	Attr *types.SetAttrs

	// Spec holds device numbers for NF3CHR and NF3BLK.
	Spec types.SpecData
}

// Mknod creates a special file (RFC 1813 Section 3.3.11). Regular files,
// directories and links have their own procedures and yield
// NFS3ERR_BADTYPE here.
func (h *Handler) Mknod(ctx *NFSHandlerContext, req *MknodRequest) (*CreateResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("MKNOD: name='%s' type=%d dir=%x client=%s", req.Name, req.Type, req.DirHandle, clientIP)

	if ctx.cancelled() {
		return &CreateResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	dir, before, status := h.prepareCreate(ctx, req.DirHandle, req.Name, "MKNOD")
	if status != types.NFS3OK {
		return h.createFailed(status, dir, before), nil
	}

	var ftype backend.FileType
	switch req.Type {
	case types.NF3CHR, types.NF3BLK, types.NF3SOCK, types.NF3FIFO:
		ftype = backend.FileType(req.Type)
	default:
		return h.createFailed(types.NFS3ErrBadType, dir, before), nil
	}

	p := childPath(dir.path, req.Name)
	if err := h.Backend.Mknod(p, ftype, createMode(req.Attr, 0644), req.Spec.Major, req.Spec.Minor); err != nil {
		return h.createFailed(xdr.MapBackendErrorToNFSStatus(err, clientIP, "MKNOD"), dir, before), nil
	}
	h.setOwner(p, h.identity(ctx, dir), dir.export, req.Attr)

	logger.Info("MKNOD successful: path=%s type=%s client=%s", p, ftype, clientIP)
	return h.created(dir, before, req.Name), nil
}

// DecodeMknodRequest decodes MKNOD3args:
//
//	diropargs3 where
//	mknoddata3 what: ftype3, then
//	  NF3CHR/NF3BLK   → sattr3, specdata3
//	  NF3SOCK/NF3FIFO → sattr3
//	  otherwise       → void
func DecodeMknodRequest(data []byte) (*MknodRequest, error) {
	reader := bytes.NewReader(data)
	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	ftype, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode type: %w", err)
	}

	req := &MknodRequest{DirHandle: handle, Name: name, Type: ftype}
	switch ftype {
	case types.NF3CHR, types.NF3BLK:
		if req.Attr, err = xdr.DecodeSetAttrs(reader); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		if req.Spec.Major, err = xdr.DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("decode major: %w", err)
		}
		if req.Spec.Minor, err = xdr.DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("decode minor: %w", err)
		}
	case types.NF3SOCK, types.NF3FIFO:
		if req.Attr, err = xdr.DecodeSetAttrs(reader); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return req, nil
}
