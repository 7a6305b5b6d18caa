package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// RemoveRequest is REMOVE3args and RMDIR3args.
type RemoveRequest struct {
	DirHandle []byte
	Filename  string
}

// RemoveResponse is REMOVE3res and RMDIR3res: directory WCC data only.
type RemoveResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Remove deletes a non-directory entry (RFC 1813 Section 3.3.12).
//
// Once the entry is gone its cached handle and any open descriptors are
// dropped, so a client still holding the handle gets NFS3ERR_STALE.
func (h *Handler) Remove(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	return h.unlink(ctx, req, "REMOVE", h.Backend.Remove)
}

// Rmdir deletes an empty directory (RFC 1813 Section 3.3.13).
func (h *Handler) Rmdir(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	return h.unlink(ctx, req, "RMDIR", h.Backend.Rmdir)
}

func (h *Handler) unlink(ctx *NFSHandlerContext, req *RemoveRequest, op string, remove func(string) error) (*RemoveResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("%s: name='%s' dir=%x client=%s", op, req.Filename, req.DirHandle, clientIP)

	if ctx.cancelled() {
		return &RemoveResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	dir, before, status := h.prepareUnlink(ctx, req.DirHandle, req.Filename, op)
	if status != types.NFS3OK {
		resp := &RemoveResponse{NFSResponseBase: NFSResponseBase{Status: status}, DirBefore: before}
		if dir != nil {
			resp.DirAfter = h.postOpAttr(dir.path)
		}
		return resp, nil
	}

	p := childPath(dir.path, req.Filename)
	status = types.NFS3OK
	if err := h.removeEntry(p, remove); err != nil {
		status = xdr.MapBackendErrorToNFSStatus(err, clientIP, op)
	} else {
		logger.Info("%s successful: path=%s client=%s", op, p, clientIP)
	}

	return &RemoveResponse{
		NFSResponseBase: NFSResponseBase{Status: status},
		DirBefore:       before,
		DirAfter:        h.postOpAttr(dir.path),
	}, nil
}

// removeEntry removes p and forgets everything cached about it.
func (h *Handler) removeEntry(p string, remove func(string) error) error {
	attr, err := h.Backend.Lstat(p)
	if err != nil {
		return err
	}
	if err := remove(p); err != nil {
		return err
	}
	h.forget(p, attr)
	return nil
}

// forget drops the handle cache entries under p and the open descriptors
// of the object that used to live there.
func (h *Handler) forget(p string, attr *backend.Attr) {
	h.Handles.Invalidate(p)
	if attr != nil && attr.Type == backend.TypeRegular {
		if err := h.Files.Forget(attr.Identity()); err != nil {
			logger.Debug("closing descriptors of %s: %v", p, err)
		}
	}
}

// prepareUnlink resolves the directory of an entry about to be removed or
// renamed away. "." and ".." cannot be removed.
func (h *Handler) prepareUnlink(ctx *NFSHandlerContext, raw []byte, name, op string) (*object, *types.WccAttr, uint32) {
	dir, status := h.resolve(ctx, raw, op)
	if status != types.NFS3OK {
		return nil, nil, status
	}
	before := xdr.CaptureWccAttr(dir.attr)

	if status := requireDir(dir); status != types.NFS3OK {
		return dir, before, status
	}
	if status := checkWritable(dir); status != types.NFS3OK {
		return dir, before, status
	}
	if status := validateName(name, false); status != types.NFS3OK {
		return dir, before, status
	}
	if name == "." || name == ".." {
		return dir, before, types.NFS3ErrInval
	}
	return dir, before, types.NFS3OK
}

// DecodeRemoveRequest decodes REMOVE3args and RMDIR3args (a diropargs3).
func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	handle, name, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &RemoveRequest{DirHandle: handle, Filename: name}, nil
}

// Encode serializes REMOVE3res and RMDIR3res.
func (resp *RemoveResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode dir wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
