package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// GetAttrRequest is GETATTR3args.
type GetAttrRequest struct {
	Handle []byte
}

// GetAttrResponse is GETATTR3res. Attr is only encoded on success.
type GetAttrResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
}

// GetAttr returns the attributes of a file system object
// (RFC 1813 Section 3.3.1).
func (h *Handler) GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) (*GetAttrResponse, error) {
	logger.Debug("GETATTR: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if ctx.cancelled() {
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "GETATTR")
	if status != types.NFS3OK {
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	return &GetAttrResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            xdr.ToNFSAttr(obj.attr),
	}, nil
}

// DecodeGetAttrRequest decodes GETATTR3args: a single nfs_fh3.
func DecodeGetAttrRequest(data []byte) (*GetAttrRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &GetAttrRequest{Handle: handle}, nil
}

// Encode serializes GETATTR3res.
func (resp *GetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
	}
	return buf.Bytes(), nil
}
