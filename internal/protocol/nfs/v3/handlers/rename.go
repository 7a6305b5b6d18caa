package handlers

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// RenameRequest is RENAME3args.
type RenameRequest struct {
	FromDirHandle []byte
	FromName      string
	ToDirHandle   []byte
	ToName        string
}

// RenameResponse is RENAME3res.
type RenameResponse struct {
	NFSResponseBase
	FromDirBefore *types.WccAttr
	FromDirAfter  *types.NFSFileAttr
	ToDirBefore   *types.WccAttr
	ToDirAfter    *types.NFSFileAttr
}

// Rename moves an entry, possibly replacing an existing one
// (RFC 1813 Section 3.3.14).
//
// Both directories must belong to the same export; a rename across exports
// fails with NFS3ERR_XDEV even when the backend could perform it.
//
// After a successful rename every cached handle under the old path is
// dropped and will be found again by search. A replaced target is forgotten
// like a removed file.
func (h *Handler) Rename(ctx *NFSHandlerContext, req *RenameRequest) (*RenameResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("RENAME: from='%s' dir=%x to='%s' dir=%x client=%s",
		req.FromName, req.FromDirHandle, req.ToName, req.ToDirHandle, clientIP)

	if ctx.cancelled() {
		return &RenameResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	resp := &RenameResponse{}
	from, before, status := h.prepareUnlink(ctx, req.FromDirHandle, req.FromName, "RENAME")
	resp.FromDirBefore = before
	if status != types.NFS3OK {
		return h.renameDone(resp, status, from, nil), nil
	}

	to, before, status := h.prepareCreate(ctx, req.ToDirHandle, req.ToName, "RENAME")
	resp.ToDirBefore = before
	if status != types.NFS3OK {
		return h.renameDone(resp, status, from, to), nil
	}

	if from.export.Path != to.export.Path {
		logger.Debug("RENAME: across exports %s and %s", from.export.Path, to.export.Path)
		return h.renameDone(resp, types.NFS3ErrXDev, from, to), nil
	}

	src := childPath(from.path, req.FromName)
	dst := childPath(to.path, req.ToName)

	srcAttr, err := h.Backend.Lstat(src)
	if err != nil {
		return h.renameDone(resp, xdr.MapBackendErrorToNFSStatus(err, clientIP, "RENAME"), from, to), nil
	}
	dstAttr, err := h.Backend.Lstat(dst)
	if err != nil && !errors.Is(err, backend.ErrNotExist) {
		return h.renameDone(resp, xdr.MapBackendErrorToNFSStatus(err, clientIP, "RENAME"), from, to), nil
	}

	if err := h.Backend.Rename(src, dst); err != nil {
		return h.renameDone(resp, xdr.MapBackendErrorToNFSStatus(err, clientIP, "RENAME"), from, to), nil
	}

	h.Handles.Invalidate(src)
	if dstAttr != nil && dstAttr.Identity() != srcAttr.Identity() {
		h.forget(dst, dstAttr)
	} else {
		h.Handles.Invalidate(dst)
	}

	logger.Info("RENAME successful: %s -> %s client=%s", src, dst, clientIP)
	return h.renameDone(resp, types.NFS3OK, from, to), nil
}

func (h *Handler) renameDone(resp *RenameResponse, status uint32, from, to *object) *RenameResponse {
	resp.Status = status
	if from != nil {
		resp.FromDirAfter = h.postOpAttr(from.path)
	}
	if to != nil {
		resp.ToDirAfter = h.postOpAttr(to.path)
	}
	return resp
}

// DecodeRenameRequest decodes RENAME3args: diropargs3 from, diropargs3 to.
func DecodeRenameRequest(data []byte) (*RenameRequest, error) {
	reader := bytes.NewReader(data)
	fromHandle, fromName, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode from: %w", err)
	}
	toHandle, toName, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode to: %w", err)
	}
	return &RenameRequest{
		FromDirHandle: fromHandle,
		FromName:      fromName,
		ToDirHandle:   toHandle,
		ToName:        toName,
	}, nil
}

// Encode serializes RENAME3res.
func (resp *RenameResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.FromDirBefore, resp.FromDirAfter); err != nil {
		return nil, fmt.Errorf("encode fromdir wcc data: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.ToDirBefore, resp.ToDirAfter); err != nil {
		return nil, fmt.Errorf("encode todir wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
